package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/internal/partition"
)

// MemoryLog is an in-process Log used by tests and by the replay
// validator's self-checks. It keeps every record per lane and supports
// replay from the beginning.
type MemoryLog struct {
	mu         sync.Mutex
	partitions int
	lanes      [][]Record
	waiters    []chan struct{}
}

func NewMemoryLog(partitions int) *MemoryLog {
	if partitions <= 0 {
		partitions = 1
	}
	return &MemoryLog{
		partitions: partitions,
		lanes:      make([][]Record, partitions),
	}
}

func (l *MemoryLog) PartitionCount() int { return l.partitions }

func (l *MemoryLog) Publish(ctx context.Context, ev model.Event) error {
	payload, err := model.MarshalEvent(ev)
	if err != nil {
		return err
	}
	l.append(ev.TenantID(), ev.AggregateID().String(), payload)
	return nil
}

func (l *MemoryLog) Tombstone(ctx context.Context, aggregateID uuid.UUID, tenantID string) error {
	l.append(tenantID, aggregateID.String(), nil)
	return nil
}

func (l *MemoryLog) append(tenantID, key string, payload []byte) {
	lane := partition.Assign(tenantID, l.partitions)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lanes[lane] = append(l.lanes[lane], Record{
		Key:       key,
		Payload:   payload,
		Partition: lane,
		Offset:    fmt.Sprintf("%d-%d", lane, len(l.lanes[lane])),
	})
	for _, w := range l.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// Subscribe delivers buffered records in lane order, then live records as
// they arrive, until ctx is cancelled. MemoryLog has no consumer groups;
// every subscriber sees the full lane from the beginning regardless of
// opts.
func (l *MemoryLog) Subscribe(ctx context.Context, group string, opts SubscribeOptions, handler Handler) error {
	wake := make(chan struct{}, 1)
	l.mu.Lock()
	l.waiters = append(l.waiters, wake)
	l.mu.Unlock()

	positions := make([]int, l.partitions)
	for {
		progressed := false
		failed := false
		for lane := 0; lane < l.partitions; lane++ {
			for {
				l.mu.Lock()
				if positions[lane] >= len(l.lanes[lane]) {
					l.mu.Unlock()
					break
				}
				rec := l.lanes[lane][positions[lane]]
				l.mu.Unlock()

				if err := handler(ctx, rec); err != nil {
					// Redeliver on the next pass, like the durable log.
					failed = true
					break
				}
				positions[lane]++
				progressed = true
			}
		}
		switch {
		case failed:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		case !progressed:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wake:
			}
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// Drain synchronously delivers all currently buffered records once,
// stopping at the first handler error. Used where a bounded replay is
// wanted instead of a long-running subscription.
func (l *MemoryLog) Drain(ctx context.Context, handler Handler) error {
	positions := make([]int, l.partitions)
	for {
		progressed := false
		for lane := 0; lane < l.partitions; lane++ {
			l.mu.Lock()
			pending := len(l.lanes[lane]) - positions[lane]
			var rec Record
			if pending > 0 {
				rec = l.lanes[lane][positions[lane]]
			}
			l.mu.Unlock()

			if pending == 0 {
				continue
			}
			if err := handler(ctx, rec); err != nil {
				return err
			}
			positions[lane]++
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

// Records returns a copy of every record in one lane.
func (l *MemoryLog) Records(lane int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.lanes[lane]))
	copy(out, l.lanes[lane])
	return out
}

// Events decodes every non-tombstone record across all lanes, in lane
// order. Test helper, mirroring what a full replay would observe.
func (l *MemoryLog) Events() []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Event
	for _, lane := range l.lanes {
		for _, rec := range lane {
			if rec.Tombstone() {
				continue
			}
			ev, err := model.UnmarshalEvent(rec.Payload)
			if err != nil {
				continue
			}
			out = append(out, ev)
		}
	}
	return out
}

func (l *MemoryLog) Close() error { return nil }
