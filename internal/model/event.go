package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the event union on the wire.
type EventKind string

const (
	KindCaseCreated         EventKind = "CASE_CREATED"
	KindCaseStatusChanged   EventKind = "CASE_STATUS_CHANGED"
	KindNotificationCreated EventKind = "NOTIFICATION_CREATED"
	KindNotificationClicked EventKind = "NOTIFICATION_CLICKED"
	KindAppointmentCreated  EventKind = "APPOINTMENT_CREATED"
	KindAppointmentUpdated  EventKind = "APPOINTMENT_UPDATED"
	KindReminderFired       EventKind = "REMINDER_FIRED"
	KindSoftDeleted         EventKind = "SOFT_DELETED"
	KindHardDeleted         EventKind = "HARD_DELETED"
)

// Event is the closed set of things that can happen to an aggregate. Events
// are immutable once published; all projection state is derived from them.
type Event interface {
	Kind() EventKind
	EventID() uuid.UUID
	AggregateID() uuid.UUID
	TenantID() string
	ProducerID() string
	SourceApp() string
}

// Meta carries the fields every event has in common.
type Meta struct {
	ID          uuid.UUID `json:"event_id"`
	Aggregate   uuid.UUID `json:"aggregate_id"`
	Tenant      string    `json:"tenant_id"`
	Producer    string    `json:"producer_id"`
	SourceAppID string    `json:"source_app"`
}

func (m Meta) EventID() uuid.UUID     { return m.ID }
func (m Meta) AggregateID() uuid.UUID { return m.Aggregate }
func (m Meta) TenantID() string       { return m.Tenant }
func (m Meta) ProducerID() string     { return m.Producer }
func (m Meta) SourceApp() string      { return m.SourceAppID }

// NewMeta fills the common fields with a fresh event id.
func NewMeta(aggregateID uuid.UUID, tenantID, producerID, sourceApp string) Meta {
	return Meta{
		ID:          uuid.New(),
		Aggregate:   aggregateID,
		Tenant:      tenantID,
		Producer:    producerID,
		SourceAppID: sourceApp,
	}
}

// CaseCreated opens a case aggregate.
type CaseCreated struct {
	Meta
	GroupingID string      `json:"grouping_id"`
	Tag        string      `json:"tag"`
	Title      string      `json:"title"`
	Link       string      `json:"link"`
	SuppliedAt *time.Time  `json:"supplied_at,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
	Retention  *DeleteSpec `json:"retention,omitempty"`
}

func (CaseCreated) Kind() EventKind { return KindCaseCreated }

// CaseStatusChanged appends a status entry to a case. The idempotency key
// identifies the logical operation across redeliveries.
type CaseStatusChanged struct {
	Meta
	Status         CaseStatus        `json:"status"`
	OverrideText   *string           `json:"override_text,omitempty"`
	SuppliedAt     *time.Time        `json:"supplied_at,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
	IdempotencyKey IdempotencyKey    `json:"idempotency_key"`
	NewLink        *string           `json:"new_link,omitempty"`
	Retention      *DeleteSpecUpdate `json:"retention,omitempty"`
}

func (CaseStatusChanged) Kind() EventKind { return KindCaseStatusChanged }

// NotificationCreated opens a plain message aggregate.
type NotificationCreated struct {
	Meta
	GroupingID string      `json:"grouping_id,omitempty"`
	Tag        string      `json:"tag"`
	Text       string      `json:"text"`
	Link       string      `json:"link"`
	ExternalID string      `json:"external_id"`
	ReceivedAt time.Time   `json:"received_at"`
	Retention  *DeleteSpec `json:"retention,omitempty"`
}

func (NotificationCreated) Kind() EventKind { return KindNotificationCreated }

// NotificationClicked records that a user followed the notification link.
type NotificationClicked struct {
	Meta
	UserID string `json:"user_id"`
}

func (NotificationClicked) Kind() EventKind { return KindNotificationClicked }

// AppointmentState mirrors the lifecycle of a calendar appointment.
type AppointmentState string

const (
	AppointmentAwaitingReply AppointmentState = "AWAITING_REPLY"
	AppointmentConfirmed     AppointmentState = "CONFIRMED"
	AppointmentCancelled     AppointmentState = "CANCELLED"
)

// Terminal reports whether no further reminder may fire for the appointment.
func (s AppointmentState) Terminal() bool { return s == AppointmentCancelled }

// AppointmentCreated opens a calendar appointment aggregate.
type AppointmentCreated struct {
	Meta
	GroupingID string           `json:"grouping_id"`
	Tag        string           `json:"tag"`
	Text       string           `json:"text"`
	Link       string           `json:"link"`
	ExternalID string           `json:"external_id"`
	StartsAt   time.Time        `json:"starts_at"`
	EndsAt     *time.Time       `json:"ends_at,omitempty"`
	State      AppointmentState `json:"state"`
	Reminder   *ReminderSpec    `json:"reminder,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
	Retention  *DeleteSpec      `json:"retention,omitempty"`
}

func (AppointmentCreated) Kind() EventKind { return KindAppointmentCreated }

// AppointmentUpdated replaces the mutable parts of an appointment. A nil
// Reminder cancels any pending reminder; a non-nil one supersedes it.
type AppointmentUpdated struct {
	Meta
	Text       *string           `json:"text,omitempty"`
	Link       *string           `json:"link,omitempty"`
	StartsAt   *time.Time        `json:"starts_at,omitempty"`
	State      *AppointmentState `json:"state,omitempty"`
	Reminder   *ReminderSpec     `json:"reminder,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
	Retention  *DeleteSpecUpdate `json:"retention,omitempty"`
}

func (AppointmentUpdated) Kind() EventKind { return KindAppointmentUpdated }

// ReminderFired is emitted by the scheduler when a pending reminder's
// trigger time has passed. It re-enters the log like any other event.
type ReminderFired struct {
	Meta
	Version   int       `json:"version"`
	TriggerAt time.Time `json:"trigger_at"`
	FiredAt   time.Time `json:"fired_at"`
}

func (ReminderFired) Kind() EventKind { return KindReminderFired }

// SoftDeleted hides the aggregate from users but keeps producer state.
type SoftDeleted struct {
	Meta
	DeletedAt time.Time `json:"deleted_at"`
}

func (SoftDeleted) Kind() EventKind { return KindSoftDeleted }

// HardDeleted removes the aggregate entirely. Emitted by producers on
// request and by the retention engine when the scheduled deletion time has
// passed.
type HardDeleted struct {
	Meta
	DeletedAt time.Time `json:"deleted_at"`
}

func (HardDeleted) Kind() EventKind { return KindHardDeleted }

type envelope struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalEvent wraps an event in the wire envelope.
func MarshalEvent(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Kind(), err)
	}
	return json.Marshal(envelope{Kind: ev.Kind(), Payload: payload})
}

// UnmarshalEvent decodes a wire envelope into the concrete event type.
func UnmarshalEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var ev Event
	switch env.Kind {
	case KindCaseCreated:
		ev = &CaseCreated{}
	case KindCaseStatusChanged:
		ev = &CaseStatusChanged{}
	case KindNotificationCreated:
		ev = &NotificationCreated{}
	case KindNotificationClicked:
		ev = &NotificationClicked{}
	case KindAppointmentCreated:
		ev = &AppointmentCreated{}
	case KindAppointmentUpdated:
		ev = &AppointmentUpdated{}
	case KindReminderFired:
		ev = &ReminderFired{}
	case KindSoftDeleted:
		ev = &SoftDeleted{}
	case KindHardDeleted:
		ev = &HardDeleted{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return ev, nil
}
