package retention

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/internal/repository/memory"
	"github.com/varsling/notification-platform/pkg/health"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
)

func newEngine(t *testing.T, source Source, cfg Config) (*Engine, *eventlog.MemoryLog, *health.Registry) {
	t.Helper()
	sink := eventlog.NewMemoryLog(4)
	reg := health.NewRegistry()
	reg.SetAlive(health.SubsystemRetentionEngine, true)
	if cfg.SourceApp == "" {
		cfg.SourceApp = "retention-app"
	}
	e := NewEngine(source, sink, reg, cfg, logger.NewLogger(nil), metrics.NewUnregistered("test"))
	return e, sink, reg
}

func storeWithAggregate(t *testing.T, deletionAt time.Time) (*memory.Store, uuid.UUID) {
	t.Helper()
	store := memory.NewStore()
	id := uuid.New()
	require.NoError(t, store.Upsert(context.Background(), &model.Aggregate{
		ID:                  id,
		Kind:                model.AggregateNotification,
		TenantID:            "910825526",
		ProducerID:          "producer-1",
		Tag:                 "sick-leave",
		ScheduledDeletionAt: &deletionAt,
	}))
	return store, id
}

func hardDeletes(sink *eventlog.MemoryLog) []*model.HardDeleted {
	var out []*model.HardDeleted
	for _, ev := range sink.Events() {
		if d, ok := ev.(*model.HardDeleted); ok {
			out = append(out, d)
		}
	}
	return out
}

func TestDeletionEmittedOnlyOnceDue(t *testing.T) {
	deletionAt := time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)
	store, id := storeWithAggregate(t, deletionAt)
	e, sink, reg := newEngine(t, store, Config{Environment: "dev"})

	// Two days early: nothing is emitted.
	require.NoError(t, e.ProcessDueDeletions(context.Background(), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Empty(t, hardDeletes(sink))

	// Exactly at the scheduled instant the aggregate is due.
	require.NoError(t, e.ProcessDueDeletions(context.Background(), deletionAt))
	fired := hardDeletes(sink)
	require.Len(t, fired, 1)
	assert.Equal(t, id, fired[0].Aggregate)
	assert.Equal(t, "910825526", fired[0].Tenant)
	assert.True(t, reg.Alive())
}

func TestDeletionEmittedPastDue(t *testing.T) {
	deletionAt := time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)
	store, id := storeWithAggregate(t, deletionAt)
	e, sink, _ := newEngine(t, store, Config{Environment: "dev"})

	require.NoError(t, e.ProcessDueDeletions(context.Background(), deletionAt.Add(time.Second)))
	fired := hardDeletes(sink)
	require.Len(t, fired, 1)
	assert.Equal(t, id, fired[0].Aggregate)
}

// staticSource returns a fixed candidate list regardless of asOf, standing
// in for a store whose due filter has gone wrong.
type staticSource []model.RetentionCandidate

func (s staticSource) ListDeletionDue(ctx context.Context, asOf time.Time) ([]model.RetentionCandidate, error) {
	return s, nil
}

func TestFutureDatedCandidateSkippedScanContinues(t *testing.T) {
	asOf := time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)
	future := model.RetentionCandidate{
		AggregateID:         uuid.New(),
		TenantID:            "910825526",
		ProducerID:          "producer-1",
		ScheduledDeletionAt: asOf.Add(48 * time.Hour),
	}
	due := model.RetentionCandidate{
		AggregateID:         uuid.New(),
		TenantID:            "910825526",
		ProducerID:          "producer-1",
		ScheduledDeletionAt: asOf.Add(-time.Hour),
	}
	e, sink, reg := newEngine(t, staticSource{future, due}, Config{Environment: "dev"})

	require.NoError(t, e.ProcessDueDeletions(context.Background(), asOf))

	// The due candidate is still processed; the bad one is skipped and the
	// subsystem flagged unhealthy.
	fired := hardDeletes(sink)
	require.Len(t, fired, 1)
	assert.Equal(t, due.AggregateID, fired[0].Aggregate)
	assert.False(t, reg.Alive())
}

func TestSuppressedEnvironmentEmitsNothing(t *testing.T) {
	deletionAt := time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)
	store, _ := storeWithAggregate(t, deletionAt)
	e, sink, reg := newEngine(t, store, Config{
		Environment:            "prod-gcp",
		SuppressedEnvironments: []string{"prod-gcp"},
	})

	require.NoError(t, e.ProcessDueDeletions(context.Background(), deletionAt.Add(time.Hour)))
	assert.Empty(t, hardDeletes(sink))
	assert.False(t, reg.Alive())

	// The candidate is not consumed: it stays due for when the gate lifts.
	candidates, err := e.CollectDue(context.Background(), deletionAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestCollectDueIgnoresUnscheduledAggregates(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Upsert(context.Background(), &model.Aggregate{
		ID:       uuid.New(),
		Kind:     model.AggregateCase,
		TenantID: "910825526",
	}))
	e, _, _ := newEngine(t, store, Config{Environment: "dev"})

	candidates, err := e.CollectDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
