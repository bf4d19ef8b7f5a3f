// Package memory holds an in-process aggregate store used by tests and by
// the replay validator, which needs a throwaway projection target.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/varsling/notification-platform/internal/model"
)

type Store struct {
	mu         sync.RWMutex
	aggregates map[uuid.UUID]*model.Aggregate
}

func NewStore() *Store {
	return &Store{aggregates: make(map[uuid.UUID]*model.Aggregate)}
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[id]
	if !ok {
		return nil, nil
	}
	return agg.Clone(), nil
}

func (s *Store) Upsert(ctx context.Context, agg *model.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregates[agg.ID] = agg.Clone()
	return nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.aggregates, id)
	return nil
}

func (s *Store) FindByGrouping(ctx context.Context, tag, groupingID string) (*model.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, agg := range s.aggregates {
		if agg.Kind == model.AggregateCase && agg.Tag == tag && agg.GroupingID == groupingID {
			return agg.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]*model.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Aggregate
	for _, agg := range s.aggregates {
		if agg.TenantID == tenantID {
			out = append(out, agg.Clone())
		}
	}
	return out, nil
}

func (s *Store) ListDeletionDue(ctx context.Context, asOf time.Time) ([]model.RetentionCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.RetentionCandidate
	for _, agg := range s.aggregates {
		if agg.ScheduledDeletionAt == nil || agg.ScheduledDeletionAt.After(asOf) {
			continue
		}
		out = append(out, model.RetentionCandidate{
			AggregateID:         agg.ID,
			TenantID:            agg.TenantID,
			ProducerID:          agg.ProducerID,
			ScheduledDeletionAt: *agg.ScheduledDeletionAt,
		})
	}
	return out, nil
}

// Len reports the number of stored aggregates. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.aggregates)
}
