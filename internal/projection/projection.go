// Package projection folds the event log into queryable aggregate state.
// Both the producer-facing and the user-facing read models are instances
// of the same Projection; they differ only in which fields their read
// layer exposes, never in fold semantics.
package projection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/varsling/notification-platform/internal/engine"
	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
)

// Projection wraps the application engine with storage. One poisoned event
// must never block the lane: conflict and structural outcomes are logged
// and counted, and only infrastructure failures propagate so the log
// redelivers.
type Projection struct {
	name    string
	store   Store
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func New(name string, store Store, log *logger.Logger, m *metrics.Metrics) *Projection {
	return &Projection{
		name:    name,
		store:   store,
		logger:  log.WithComponent("projection-" + name),
		metrics: m,
	}
}

// OnEvent applies one event and persists the result. Apply, then persist,
// then (in the caller) acknowledge, in that order.
func (p *Projection) OnEvent(ctx context.Context, ev model.Event) (engine.Outcome, error) {
	timer := prometheus.NewTimer(p.metrics.FoldLatency.WithLabelValues(p.name))
	defer timer.ObserveDuration()

	state, err := p.store.Get(ctx, ev.AggregateID())
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("load aggregate %s: %w", ev.AggregateID(), err)
	}

	outcome := engine.Apply(state, ev)
	p.metrics.EventsFolded.WithLabelValues(p.name, outcome.Result.String()).Inc()

	switch outcome.Result {
	case engine.Applied:
		if outcome.State == nil {
			if err := p.store.Delete(ctx, ev.AggregateID()); err != nil {
				return outcome, fmt.Errorf("delete aggregate %s: %w", ev.AggregateID(), err)
			}
		} else {
			if err := p.store.Upsert(ctx, outcome.State); err != nil {
				return outcome, fmt.Errorf("persist aggregate %s: %w", ev.AggregateID(), err)
			}
		}
	case engine.DuplicateIgnored:
		p.logger.Debug("duplicate event ignored",
			"event_id", ev.EventID().String(), "aggregate_id", ev.AggregateID().String())
	case engine.Conflict:
		p.logger.Warn("conflicting event skipped",
			"event_id", ev.EventID().String(), "aggregate_id", ev.AggregateID().String(), "reason", outcome.Reason)
	case engine.StructuralError:
		p.logger.Warn("structurally invalid event skipped",
			"event_id", ev.EventID().String(), "aggregate_id", ev.AggregateID().String(), "reason", outcome.Reason)
	}
	return outcome, nil
}

// HandleRecord adapts OnEvent to the event log consumer contract.
// Tombstones remove the row directly; undecodable payloads are counted as
// structural damage and skipped.
func (p *Projection) HandleRecord(ctx context.Context, rec eventlog.Record) error {
	if rec.Tombstone() {
		id, err := uuid.Parse(rec.Key)
		if err != nil {
			p.logger.Warn("tombstone with unparsable key skipped", "key", rec.Key, "offset", rec.Offset)
			return nil
		}
		if err := p.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("apply tombstone %s: %w", id, err)
		}
		return nil
	}

	ev, err := rec.Event()
	if err != nil {
		p.metrics.EventsFolded.WithLabelValues(p.name, engine.StructuralError.String()).Inc()
		p.logger.Error(err, "undecodable event skipped", "offset", rec.Offset, "partition", rec.Partition)
		return nil
	}

	_, err = p.OnEvent(ctx, ev)
	return err
}

// Get exposes the read side for the query layer.
func (p *Projection) Get(ctx context.Context, id uuid.UUID) (*model.Aggregate, error) {
	return p.store.Get(ctx, id)
}

// FindByGrouping resolves a case by (tag, groupingID).
func (p *Projection) FindByGrouping(ctx context.Context, tag, groupingID string) (*model.Aggregate, error) {
	return p.store.FindByGrouping(ctx, tag, groupingID)
}

// ListByTenant returns a tenant's aggregates.
func (p *Projection) ListByTenant(ctx context.Context, tenantID string) ([]*model.Aggregate, error) {
	return p.store.ListByTenant(ctx, tenantID)
}
