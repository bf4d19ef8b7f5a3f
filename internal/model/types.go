package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CaseStatus is the business status of a case.
type CaseStatus string

const (
	CaseStatusReceived   CaseStatus = "RECEIVED"
	CaseStatusInProgress CaseStatus = "IN_PROGRESS"
	CaseStatusCompleted  CaseStatus = "COMPLETED"
)

// Valid reports whether s is a known status value.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusReceived, CaseStatusInProgress, CaseStatusCompleted:
		return true
	}
	return false
}

// IdempotencyKey identifies one logical mutating operation. Either the
// caller supplies a token, or we generate one from the event id so that a
// plain retry of the same event is still recognised.
type IdempotencyKey struct {
	Source string `json:"source"`
	Value  string `json:"value"`
}

const (
	idempotencySourceUser      = "user"
	idempotencySourceGenerated = "generated"
)

// UserSupplied wraps a caller-provided idempotency token.
func UserSupplied(token string) IdempotencyKey {
	return IdempotencyKey{Source: idempotencySourceUser, Value: token}
}

// Generated derives a key from the event id.
func Generated(eventID uuid.UUID) IdempotencyKey {
	return IdempotencyKey{Source: idempotencySourceGenerated, Value: eventID.String()}
}

// Duration is a time.Duration that marshals as its string form.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// DeleteSpec says when an aggregate should be hard deleted: at an absolute
// instant, or a duration after the event that carried the spec.
type DeleteSpec struct {
	At    *time.Time `json:"at,omitempty"`
	After *Duration  `json:"after,omitempty"`
}

// ResolveAt computes the scheduled deletion time relative to base.
func (s DeleteSpec) ResolveAt(base time.Time) (time.Time, error) {
	switch {
	case s.At != nil && s.After != nil:
		return time.Time{}, fmt.Errorf("delete spec has both absolute time and offset")
	case s.At != nil:
		return NormalizeTime(*s.At), nil
	case s.After != nil:
		return NormalizeTime(base.Add(s.After.Std())), nil
	default:
		return time.Time{}, fmt.Errorf("empty delete spec")
	}
}

// DeleteStrategy controls how a retention update combines with an existing
// scheduled deletion time.
type DeleteStrategy string

const (
	// DeleteStrategyOverwrite replaces the existing deletion time.
	DeleteStrategyOverwrite DeleteStrategy = "OVERWRITE"
	// DeleteStrategyExtend keeps whichever deletion time is later.
	DeleteStrategyExtend DeleteStrategy = "EXTEND"
)

// DeleteSpecUpdate carries a retention change on an update-kind event.
type DeleteSpecUpdate struct {
	Spec     DeleteSpec     `json:"spec"`
	Strategy DeleteStrategy `json:"strategy"`
}

// Apply combines the update with the current scheduled deletion time.
func (u DeleteSpecUpdate) Apply(current *time.Time, base time.Time) (*time.Time, error) {
	resolved, err := u.Spec.ResolveAt(base)
	if err != nil {
		return nil, err
	}
	if u.Strategy == DeleteStrategyExtend && current != nil && current.After(resolved) {
		return current, nil
	}
	return &resolved, nil
}

// ReminderSpec describes when a reminder notification should fire: at a
// concrete instant, or some duration before the appointment start.
type ReminderSpec struct {
	Text        string     `json:"text"`
	At          *time.Time `json:"at,omitempty"`
	BeforeStart *Duration  `json:"before_start,omitempty"`
}

// ComputeTrigger resolves the trigger instant and validates that it falls
// strictly between the aggregate's creation time and the reference start
// time. Out-of-range specs are rejected here, at creation, never at fire
// time.
func (r ReminderSpec) ComputeTrigger(createdAt, startsAt time.Time) (time.Time, error) {
	var trigger time.Time
	switch {
	case r.At != nil && r.BeforeStart != nil:
		return time.Time{}, fmt.Errorf("reminder spec has both absolute time and offset")
	case r.At != nil:
		trigger = NormalizeTime(*r.At)
	case r.BeforeStart != nil:
		trigger = NormalizeTime(startsAt.Add(-r.BeforeStart.Std()))
	default:
		return time.Time{}, fmt.Errorf("empty reminder spec")
	}

	if !trigger.After(NormalizeTime(createdAt)) {
		return time.Time{}, fmt.Errorf("reminder trigger %s is not after creation time %s", trigger, createdAt)
	}
	if !trigger.Before(NormalizeTime(startsAt)) {
		return time.Time{}, fmt.Errorf("reminder trigger %s is not before start time %s", trigger, startsAt)
	}
	return trigger, nil
}

// NormalizeTime is the canonical timestamp form used for storage and for
// duplicate/conflict comparison: UTC, microsecond precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NormalizeTimePtr normalizes through a nil-safe pointer.
func NormalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := NormalizeTime(*t)
	return &n
}
