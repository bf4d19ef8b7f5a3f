package projection

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/varsling/notification-platform/internal/model"
)

// Store is the durable keyed state behind a projection. The aggregate row
// is the unit of mutation; concurrent writes to different aggregates are
// independent, and writes to the same aggregate are serialized upstream by
// the one-lane-per-tenant ordering of the log.
type Store interface {
	// Get returns the aggregate or (nil, nil) when absent.
	Get(ctx context.Context, id uuid.UUID) (*model.Aggregate, error)
	Upsert(ctx context.Context, agg *model.Aggregate) error
	Delete(ctx context.Context, id uuid.UUID) error

	// FindByGrouping resolves a case by its producer-facing grouping key.
	FindByGrouping(ctx context.Context, tag, groupingID string) (*model.Aggregate, error)
	// ListByTenant returns every aggregate belonging to a tenant.
	ListByTenant(ctx context.Context, tenantID string) ([]*model.Aggregate, error)
	// ListDeletionDue returns retention candidates whose scheduled
	// deletion time is at or before asOf.
	ListDeletionDue(ctx context.Context, asOf time.Time) ([]model.RetentionCandidate, error)
}
