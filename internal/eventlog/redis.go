package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/internal/partition"
	"github.com/varsling/notification-platform/pkg/circuitbreaker"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"

	readBlock = 2 * time.Second
	readCount = 64
)

// RedisLog implements Log on Redis Streams: one stream per lane
// ("events:<n>"), consumer groups for committed positions, XACK as the
// acknowledgement. Within a stream Redis preserves insertion order, which
// carries the per-tenant FIFO guarantee.
type RedisLog struct {
	client     *redis.Client
	streamBase string
	partitions int
	cb         *circuitbreaker.CircuitBreaker
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

type RedisConfig struct {
	URL          string
	StreamBase   string
	Partitions   int
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
}

func NewRedisLog(cfg RedisConfig, log *logger.Logger, m *metrics.Metrics) (*RedisLog, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = cfg.RetryBackoff
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if cfg.StreamBase == "" {
		cfg.StreamBase = "events"
	}
	if cfg.Partitions <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", cfg.Partitions)
	}

	return &RedisLog{
		client:     client,
		streamBase: cfg.StreamBase,
		partitions: cfg.Partitions,
		cb: circuitbreaker.New(circuitbreaker.Settings{
			Name:        "eventlog-publish",
			MaxFailures: 5,
			Timeout:     10 * time.Second,
		}),
		logger:  log.WithComponent("eventlog"),
		metrics: m,
	}, nil
}

func (l *RedisLog) PartitionCount() int { return l.partitions }

func (l *RedisLog) stream(lane int) string {
	return fmt.Sprintf("%s:%d", l.streamBase, lane)
}

func (l *RedisLog) Publish(ctx context.Context, ev model.Event) error {
	payload, err := model.MarshalEvent(ev)
	if err != nil {
		return err
	}
	lane := partition.Assign(ev.TenantID(), l.partitions)
	err = l.cb.Execute(func() error {
		return l.client.XAdd(ctx, &redis.XAddArgs{
			Stream: l.stream(lane),
			Values: map[string]interface{}{
				fieldKey:     ev.AggregateID().String(),
				fieldPayload: string(payload),
			},
		}).Err()
	})
	if err != nil {
		l.metrics.PublishFailures.WithLabelValues(string(ev.Kind())).Inc()
		return fmt.Errorf("publish %s to lane %d: %w", ev.Kind(), lane, err)
	}
	l.metrics.EventsPublished.WithLabelValues(string(ev.Kind())).Inc()
	return nil
}

func (l *RedisLog) Tombstone(ctx context.Context, aggregateID uuid.UUID, tenantID string) error {
	lane := partition.Assign(tenantID, l.partitions)
	err := l.cb.Execute(func() error {
		return l.client.XAdd(ctx, &redis.XAddArgs{
			Stream: l.stream(lane),
			Values: map[string]interface{}{fieldKey: aggregateID.String()},
		}).Err()
	})
	if err != nil {
		return fmt.Errorf("tombstone %s on lane %d: %w", aggregateID, lane, err)
	}
	return nil
}

func (l *RedisLog) Subscribe(ctx context.Context, group string, opts SubscribeOptions, handler Handler) error {
	for lane := 0; lane < l.partitions; lane++ {
		if err := l.ensureGroup(ctx, lane, group, opts.FromBeginning); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for lane := 0; lane < l.partitions; lane++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			l.consumeLane(ctx, lane, group, handler)
		}(lane)
	}
	wg.Wait()
	return ctx.Err()
}

func (l *RedisLog) ensureGroup(ctx context.Context, lane int, group string, fromBeginning bool) error {
	stream := l.stream(lane)
	start := "$"
	if fromBeginning {
		start = "0"
	}
	err := l.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	if fromBeginning {
		if err := l.client.XGroupSetID(ctx, stream, group, "0").Err(); err != nil {
			return fmt.Errorf("reset group %s on %s: %w", group, stream, err)
		}
	}
	return nil
}

// consumeLane reads one lane in order. Records are acknowledged only after
// the handler succeeds, so a crash between apply and ack causes redelivery
// rather than loss.
func (l *RedisLog) consumeLane(ctx context.Context, lane int, group string, handler Handler) {
	stream := l.stream(lane)
	consumer := fmt.Sprintf("%s-%d", group, lane)

	// Claimed-but-unacknowledged records from a previous run come first.
	cursor := "0"
	for {
		if ctx.Err() != nil {
			return
		}

		args := &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, cursor},
			Count:    readCount,
			Block:    readBlock,
		}
		res, err := l.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if cursor == "0" {
					cursor = ">"
				}
				continue
			}
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			l.logger.Error(err, "read lane failed", "lane", lane)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		empty := true
		failed := false
		for _, stm := range res {
			for _, msg := range stm.Messages {
				empty = false
				rec := toRecord(msg, lane)
				if err := handler(ctx, rec); err != nil {
					// Not acknowledged: the record stays pending and is
					// retried before any new records.
					l.logger.Error(err, "handler failed, record will be redelivered",
						"lane", lane, "offset", rec.Offset, "key", rec.Key)
					failed = true
					break
				}
				if err := l.client.XAck(ctx, stream, group, msg.ID).Err(); err != nil {
					l.logger.Error(err, "ack failed", "lane", lane, "offset", rec.Offset)
				}
			}
			if failed {
				break
			}
		}

		if failed {
			cursor = "0"
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if empty && cursor == "0" {
			// Backlog of unacknowledged records is drained; switch to new
			// records.
			cursor = ">"
		}
	}
}

// Drain reads every record currently in the log, lane by lane, without
// touching any consumer group. Used for bounded replays.
func (l *RedisLog) Drain(ctx context.Context, handler Handler) error {
	for lane := 0; lane < l.partitions; lane++ {
		stream := l.stream(lane)
		cursor := "-"
		for {
			msgs, err := l.client.XRangeN(ctx, stream, cursor, "+", readCount).Result()
			if err != nil {
				return fmt.Errorf("range lane %d: %w", lane, err)
			}
			if len(msgs) == 0 {
				break
			}
			for _, msg := range msgs {
				if err := handler(ctx, toRecord(msg, lane)); err != nil {
					return err
				}
			}
			// Exclusive range start, so the last delivered ID is not re-read.
			cursor = "(" + msgs[len(msgs)-1].ID
		}
	}
	return nil
}

func toRecord(msg redis.XMessage, lane int) Record {
	rec := Record{Partition: lane, Offset: msg.ID}
	if key, ok := msg.Values[fieldKey].(string); ok {
		rec.Key = key
	}
	if payload, ok := msg.Values[fieldPayload].(string); ok {
		rec.Payload = []byte(payload)
	}
	return rec
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}
