package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/internal/partition"
)

func publishN(t *testing.T, log *MemoryLog, tenant string, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		ev := &model.NotificationCreated{
			Meta:       model.NewMeta(ids[i], tenant, "producer-1", "app"),
			Tag:        "sick-leave",
			Text:       "msg",
			Link:       "https://example.test/m",
			ExternalID: ids[i].String(),
			ReceivedAt: time.Now(),
		}
		require.NoError(t, log.Publish(context.Background(), ev))
	}
	return ids
}

func TestTenantEventsStayInOneLaneInOrder(t *testing.T) {
	log := NewMemoryLog(8)
	ids := publishN(t, log, "910825526", 5)

	lane := partition.Assign("910825526", 8)
	records := log.Records(lane)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, ids[i].String(), rec.Key)
		assert.Equal(t, lane, rec.Partition)
	}
}

func TestDrainStopsAtHandlerError(t *testing.T) {
	log := NewMemoryLog(1)
	publishN(t, log, "910825526", 3)

	seen := 0
	boom := errors.New("boom")
	err := log.Drain(context.Background(), func(ctx context.Context, rec Record) error {
		seen++
		if seen == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, seen)
}

func TestSubscribeRedeliversAfterHandlerError(t *testing.T) {
	log := NewMemoryLog(1)
	ids := publishN(t, log, "910825526", 1)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	var delivered []string
	go func() {
		_ = log.Subscribe(ctx, "test", SubscribeOptions{}, func(ctx context.Context, rec Record) error {
			attempts++
			if attempts == 1 {
				return errors.New("transient")
			}
			delivered = append(delivered, rec.Key)
			cancel()
			return nil
		})
	}()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("record was not redelivered")
	}
	require.Len(t, delivered, 1)
	assert.Equal(t, ids[0].String(), delivered[0])
}

func TestTombstoneRecordHasNoPayload(t *testing.T) {
	log := NewMemoryLog(4)
	id := uuid.New()
	require.NoError(t, log.Tombstone(context.Background(), id, "910825526"))

	lane := partition.Assign("910825526", 4)
	records := log.Records(lane)
	require.Len(t, records, 1)
	assert.True(t, records[0].Tombstone())
	assert.Equal(t, id.String(), records[0].Key)
}
