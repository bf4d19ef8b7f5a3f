// Package retention turns "scheduled deletion time reached" into hard
// delete events. Emission is idempotent: re-processing a due candidate
// after a restart only produces another delete event, and the fold's
// missing-aggregate check makes the repeat harmless.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/pkg/health"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
)

// Source lists deletion-due aggregates. Satisfied by the projection store.
type Source interface {
	ListDeletionDue(ctx context.Context, asOf time.Time) ([]model.RetentionCandidate, error)
}

type Config struct {
	// Environment is the running deployment environment name.
	Environment string
	// SuppressedEnvironments lists environments where deletion emission is
	// disabled pending operational prerequisites (e.g. log backups).
	SuppressedEnvironments []string
	// SourceApp identifies this service on emitted events.
	SourceApp string
}

type Engine struct {
	source     Source
	publisher  eventlog.Log
	health     *health.Registry
	cfg        Config
	suppressed bool
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewEngine(source Source, publisher eventlog.Log, reg *health.Registry, cfg Config, log *logger.Logger, m *metrics.Metrics) *Engine {
	suppressed := false
	for _, env := range cfg.SuppressedEnvironments {
		if env == cfg.Environment {
			suppressed = true
		}
	}
	return &Engine{
		source:     source,
		publisher:  publisher,
		health:     reg,
		cfg:        cfg,
		suppressed: suppressed,
		logger:     log.WithComponent("retention-engine"),
		metrics:    m,
	}
}

// CollectDue returns aggregates whose scheduled deletion time is at or
// before asOf.
func (e *Engine) CollectDue(ctx context.Context, asOf time.Time) ([]model.RetentionCandidate, error) {
	return e.source.ListDeletionDue(ctx, asOf)
}

// ProcessDueDeletions emits a hard delete for every due candidate. A
// candidate that fails its safety check or hits the environment gate is
// skipped and flagged for operators; it never stops the rest of the scan.
func (e *Engine) ProcessDueDeletions(ctx context.Context, asOf time.Time) error {
	candidates, err := e.CollectDue(ctx, asOf)
	if err != nil {
		return fmt.Errorf("collect due deletions: %w", err)
	}

	for _, candidate := range candidates {
		if candidate.ScheduledDeletionAt.After(asOf) {
			// Can only happen through a clock or derivation bug; a
			// future-dated deletion must never be emitted.
			e.logger.Error(nil, "scheduled deletion time is in the future, refusing to emit",
				"aggregate_id", candidate.AggregateID.String(),
				"tenant_id", candidate.TenantID,
				"scheduled_deletion_at", candidate.ScheduledDeletionAt.Format(time.RFC3339))
			e.health.SetAlive(health.SubsystemRetentionEngine, false)
			e.metrics.RetentionSkipped.WithLabelValues("future_dated").Inc()
			continue
		}

		if e.suppressed {
			e.logger.Error(nil, "deletion emission suppressed in this environment",
				"environment", e.cfg.Environment,
				"aggregate_id", candidate.AggregateID.String())
			e.health.SetAlive(health.SubsystemRetentionEngine, false)
			e.metrics.RetentionSkipped.WithLabelValues("environment_gate").Inc()
			continue
		}

		ev := &model.HardDeleted{
			Meta:      model.NewMeta(candidate.AggregateID, candidate.TenantID, candidate.ProducerID, e.cfg.SourceApp),
			DeletedAt: model.NormalizeTime(asOf),
		}
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.logger.Error(err, "failed to publish hard delete",
				"aggregate_id", candidate.AggregateID.String())
			e.metrics.RetentionSkipped.WithLabelValues("publish_error").Inc()
			continue
		}
		if err := e.publisher.Tombstone(ctx, candidate.AggregateID, candidate.TenantID); err != nil {
			// The delete event already went out; the fold removes the row
			// either way. Compaction just keeps the stale record around.
			e.logger.Error(err, "tombstone publish failed",
				"aggregate_id", candidate.AggregateID.String())
		}
		e.metrics.RetentionDeletes.Inc()
		e.logger.Info("hard delete emitted",
			"aggregate_id", candidate.AggregateID.String(),
			"tenant_id", candidate.TenantID,
			"producer_id", candidate.ProducerID)
	}
	return nil
}
