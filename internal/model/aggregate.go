package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AggregateKind tells which event family created the aggregate.
type AggregateKind string

const (
	AggregateCase         AggregateKind = "CASE"
	AggregateNotification AggregateKind = "NOTIFICATION"
	AggregateAppointment  AggregateKind = "APPOINTMENT"
)

// StatusEntry is one applied status update on a case. The list on the
// aggregate is append-only and deduplicated by idempotency key.
type StatusEntry struct {
	ID             uuid.UUID      `json:"id"`
	Status         CaseStatus     `json:"status"`
	OverrideText   *string        `json:"override_text,omitempty"`
	SuppliedAt     *time.Time     `json:"supplied_at,omitempty"`
	ReceivedAt     time.Time      `json:"received_at"`
	IdempotencyKey IdempotencyKey `json:"idempotency_key"`
}

// EffectiveAt is the business timestamp of the entry, falling back to the
// receipt timestamp when the producer supplied none.
func (e StatusEntry) EffectiveAt() time.Time {
	if e.SuppliedAt != nil {
		return *e.SuppliedAt
	}
	return e.ReceivedAt
}

// ReminderState is the materialized reminder on an aggregate. Version
// increases on every reminder edit; only the latest version may fire.
type ReminderState struct {
	Text      string    `json:"text"`
	TriggerAt time.Time `json:"trigger_at"`
	Version   int       `json:"version"`
	Fired     bool      `json:"fired"`
}

// Aggregate is the derived state for one case, notification or appointment.
// It is never written directly; every mutation goes through the event log
// and the application engine.
type Aggregate struct {
	ID         uuid.UUID     `json:"id"`
	Kind       AggregateKind `json:"kind"`
	TenantID   string        `json:"tenant_id"`
	ProducerID string        `json:"producer_id"`
	SourceApp  string        `json:"source_app"`

	GroupingID string `json:"grouping_id,omitempty"`
	Tag        string `json:"tag"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
	Link       string `json:"link"`
	ExternalID string `json:"external_id,omitempty"`

	CreatedAt     time.Time     `json:"created_at"`
	StatusUpdates []StatusEntry `json:"status_updates,omitempty"`

	StartsAt         *time.Time        `json:"starts_at,omitempty"`
	EndsAt           *time.Time        `json:"ends_at,omitempty"`
	AppointmentState *AppointmentState `json:"appointment_state,omitempty"`

	Reminder            *ReminderState `json:"reminder,omitempty"`
	ScheduledDeletionAt *time.Time     `json:"scheduled_deletion_at,omitempty"`

	ClickedBy []string `json:"clicked_by,omitempty"`

	SoftDeleted   bool       `json:"soft_deleted"`
	SoftDeletedAt *time.Time `json:"soft_deleted_at,omitempty"`
}

// CurrentStatus derives the case's current status: entries are sorted
// descending by effective timestamp, insertion order breaking ties, and the
// head wins. Returns false when the case has no status updates.
func (a *Aggregate) CurrentStatus() (StatusEntry, bool) {
	if len(a.StatusUpdates) == 0 {
		return StatusEntry{}, false
	}
	sorted := make([]StatusEntry, len(a.StatusUpdates))
	copy(sorted, a.StatusUpdates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveAt().After(sorted[j].EffectiveAt())
	})
	return sorted[0], true
}

// FindStatusEntry looks up a status entry by idempotency key.
func (a *Aggregate) FindStatusEntry(key IdempotencyKey) *StatusEntry {
	for i := range a.StatusUpdates {
		if a.StatusUpdates[i].IdempotencyKey == key {
			return &a.StatusUpdates[i]
		}
	}
	return nil
}

// Clone returns a deep copy. The engine mutates only copies so that a
// rejected application never leaves partial state behind.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	out := *a
	if a.StatusUpdates != nil {
		out.StatusUpdates = make([]StatusEntry, len(a.StatusUpdates))
		copy(out.StatusUpdates, a.StatusUpdates)
	}
	if a.ClickedBy != nil {
		out.ClickedBy = append([]string(nil), a.ClickedBy...)
	}
	out.StartsAt = copyTime(a.StartsAt)
	out.EndsAt = copyTime(a.EndsAt)
	out.ScheduledDeletionAt = copyTime(a.ScheduledDeletionAt)
	out.SoftDeletedAt = copyTime(a.SoftDeletedAt)
	if a.AppointmentState != nil {
		s := *a.AppointmentState
		out.AppointmentState = &s
	}
	if a.Reminder != nil {
		r := *a.Reminder
		out.Reminder = &r
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// RetentionCandidate is an aggregate selected for hard deletion because its
// scheduled deletion time has passed.
type RetentionCandidate struct {
	AggregateID         uuid.UUID `db:"aggregate_id"`
	TenantID            string    `db:"tenant_id"`
	ProducerID          string    `db:"producer_id"`
	ScheduledDeletionAt time.Time `db:"scheduled_deletion_at"`
}
