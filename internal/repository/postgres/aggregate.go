package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/pkg/metrics"
)

// AggregateStore persists projection state keyed by aggregate id. The full
// aggregate lives in a jsonb column; the columns used by queries (tenant,
// grouping key, scheduled deletion time) are lifted out and indexed.
type AggregateStore struct {
	db      *sqlx.DB
	table   string
	metrics *metrics.Metrics
}

// NewAggregateStore returns a store writing to the named table. The
// producer and user projections use separate tables so they can lag
// independently.
func NewAggregateStore(db *sqlx.DB, table string, m *metrics.Metrics) *AggregateStore {
	return &AggregateStore{db: db, table: table, metrics: m}
}

// Schema returns the DDL for the store's table.
func (s *AggregateStore) Schema() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    aggregate_id          UUID PRIMARY KEY,
    kind                  TEXT NOT NULL,
    tenant_id             TEXT NOT NULL,
    producer_id           TEXT NOT NULL,
    tag                   TEXT NOT NULL,
    grouping_id           TEXT,
    scheduled_deletion_at TIMESTAMPTZ,
    state                 JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_tenant_idx ON %[1]s (tenant_id);
CREATE INDEX IF NOT EXISTS %[1]s_grouping_idx ON %[1]s (tag, grouping_id);
CREATE INDEX IF NOT EXISTS %[1]s_deletion_idx ON %[1]s (scheduled_deletion_at)
    WHERE scheduled_deletion_at IS NOT NULL;
`, s.table)
}

// Migrate applies the schema.
func (s *AggregateStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.Schema())
	return err
}

type aggregateRow struct {
	AggregateID         uuid.UUID      `db:"aggregate_id"`
	Kind                string         `db:"kind"`
	TenantID            string         `db:"tenant_id"`
	ProducerID          string         `db:"producer_id"`
	Tag                 string         `db:"tag"`
	GroupingID          sql.NullString `db:"grouping_id"`
	ScheduledDeletionAt sql.NullTime   `db:"scheduled_deletion_at"`
	State               []byte         `db:"state"`
}

func (r aggregateRow) decode() (*model.Aggregate, error) {
	var agg model.Aggregate
	if err := json.Unmarshal(r.State, &agg); err != nil {
		return nil, fmt.Errorf("decode aggregate %s: %w", r.AggregateID, err)
	}
	return &agg, nil
}

func (s *AggregateStore) observe(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.DatabaseOperations.WithLabelValues(op, status).Inc()
}

func (s *AggregateStore) Get(ctx context.Context, id uuid.UUID) (*model.Aggregate, error) {
	var row aggregateRow
	query := fmt.Sprintf(`SELECT * FROM %s WHERE aggregate_id = $1`, s.table)
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		s.observe("get", nil)
		return nil, nil
	}
	s.observe("get", err)
	if err != nil {
		return nil, fmt.Errorf("get aggregate %s: %w", id, err)
	}
	return row.decode()
}

func (s *AggregateStore) Upsert(ctx context.Context, agg *model.Aggregate) error {
	state, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode aggregate %s: %w", agg.ID, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (aggregate_id, kind, tenant_id, producer_id, tag, grouping_id, scheduled_deletion_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			tag = EXCLUDED.tag,
			grouping_id = EXCLUDED.grouping_id,
			scheduled_deletion_at = EXCLUDED.scheduled_deletion_at,
			state = EXCLUDED.state
	`, s.table)

	var grouping sql.NullString
	if agg.GroupingID != "" {
		grouping = sql.NullString{String: agg.GroupingID, Valid: true}
	}
	var deletionAt sql.NullTime
	if agg.ScheduledDeletionAt != nil {
		deletionAt = sql.NullTime{Time: *agg.ScheduledDeletionAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, query,
		agg.ID, string(agg.Kind), agg.TenantID, agg.ProducerID, agg.Tag, grouping, deletionAt, state)
	s.observe("upsert", err)
	if err != nil {
		return fmt.Errorf("upsert aggregate %s: %w", agg.ID, err)
	}
	return nil
}

func (s *AggregateStore) Delete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE aggregate_id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id)
	s.observe("delete", err)
	if err != nil {
		return fmt.Errorf("delete aggregate %s: %w", id, err)
	}
	return nil
}

func (s *AggregateStore) FindByGrouping(ctx context.Context, tag, groupingID string) (*model.Aggregate, error) {
	var row aggregateRow
	query := fmt.Sprintf(
		`SELECT * FROM %s WHERE kind = $1 AND tag = $2 AND grouping_id = $3`, s.table)
	err := s.db.GetContext(ctx, &row, query, string(model.AggregateCase), tag, groupingID)
	if errors.Is(err, sql.ErrNoRows) {
		s.observe("find_by_grouping", nil)
		return nil, nil
	}
	s.observe("find_by_grouping", err)
	if err != nil {
		return nil, fmt.Errorf("find case by grouping %s/%s: %w", tag, groupingID, err)
	}
	return row.decode()
}

func (s *AggregateStore) ListByTenant(ctx context.Context, tenantID string) ([]*model.Aggregate, error) {
	var rows []aggregateRow
	query := fmt.Sprintf(`SELECT * FROM %s WHERE tenant_id = $1`, s.table)
	err := s.db.SelectContext(ctx, &rows, query, tenantID)
	s.observe("list_by_tenant", err)
	if err != nil {
		return nil, fmt.Errorf("list aggregates for tenant %s: %w", tenantID, err)
	}
	out := make([]*model.Aggregate, 0, len(rows))
	for _, row := range rows {
		agg, err := row.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// ListTenants returns every distinct tenant id with at least one aggregate.
func (s *AggregateStore) ListTenants(ctx context.Context) ([]string, error) {
	var out []string
	query := fmt.Sprintf(`SELECT DISTINCT tenant_id FROM %s`, s.table)
	err := s.db.SelectContext(ctx, &out, query)
	s.observe("list_tenants", err)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return out, nil
}

func (s *AggregateStore) ListDeletionDue(ctx context.Context, asOf time.Time) ([]model.RetentionCandidate, error) {
	var out []model.RetentionCandidate
	query := fmt.Sprintf(`
		SELECT aggregate_id, tenant_id, producer_id, scheduled_deletion_at
		FROM %s
		WHERE scheduled_deletion_at IS NOT NULL AND scheduled_deletion_at <= $1
	`, s.table)
	err := s.db.SelectContext(ctx, &out, query, asOf)
	s.observe("list_deletion_due", err)
	if err != nil {
		return nil, fmt.Errorf("list deletion-due aggregates: %w", err)
	}
	return out, nil
}
