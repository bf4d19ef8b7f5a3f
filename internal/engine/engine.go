// Package engine implements the event application fold shared by every
// projection: given current aggregate state (or none) and one event, it
// produces the next state or a duplicate/conflict/structural verdict. The
// engine has no side effects; persisting the returned state is the
// caller's job.
package engine

import (
	"fmt"

	"github.com/varsling/notification-platform/internal/model"
)

// Result classifies what applying an event did.
type Result int

const (
	// Applied means the event changed state; Outcome.State carries it.
	Applied Result = iota
	// DuplicateIgnored means the event was a harmless redelivery.
	DuplicateIgnored
	// Conflict means an idempotency key was reused with a different
	// payload. Surfaced to the producer as a business error.
	Conflict
	// StructuralError means the event is inconsistent with the aggregate
	// lifecycle (double create, event after hard delete). Logged and
	// skipped by consumers, never fatal.
	StructuralError
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case DuplicateIgnored:
		return "duplicate_ignored"
	case Conflict:
		return "conflict"
	case StructuralError:
		return "structural_error"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Outcome is the verdict of one application. State is the next state for
// Applied (nil meaning the aggregate must be removed), and the unchanged
// input state otherwise.
type Outcome struct {
	Result Result
	State  *model.Aggregate
	Reason string
}

func applied(state *model.Aggregate) Outcome {
	return Outcome{Result: Applied, State: state}
}

func duplicate(state *model.Aggregate) Outcome {
	return Outcome{Result: DuplicateIgnored, State: state}
}

func conflict(state *model.Aggregate, format string, args ...interface{}) Outcome {
	return Outcome{Result: Conflict, State: state, Reason: fmt.Sprintf(format, args...)}
}

func structural(state *model.Aggregate, format string, args ...interface{}) Outcome {
	return Outcome{Result: StructuralError, State: state, Reason: fmt.Sprintf(format, args...)}
}

// Apply folds one event into the aggregate. Events arrive in per-tenant
// lane order and are never reordered here.
func Apply(state *model.Aggregate, ev model.Event) Outcome {
	switch e := ev.(type) {
	case *model.CaseCreated:
		return applyCaseCreated(state, e)
	case *model.NotificationCreated:
		return applyNotificationCreated(state, e)
	case *model.AppointmentCreated:
		return applyAppointmentCreated(state, e)
	case *model.CaseStatusChanged:
		return applyCaseStatusChanged(state, e)
	case *model.NotificationClicked:
		return applyNotificationClicked(state, e)
	case *model.AppointmentUpdated:
		return applyAppointmentUpdated(state, e)
	case *model.ReminderFired:
		return applyReminderFired(state, e)
	case *model.SoftDeleted:
		return applySoftDeleted(state, e)
	case *model.HardDeleted:
		return applyHardDeleted(state, e)
	default:
		return structural(state, "unknown event type %T", ev)
	}
}

func newAggregate(kind model.AggregateKind, ev model.Event) *model.Aggregate {
	return &model.Aggregate{
		ID:         ev.AggregateID(),
		Kind:       kind,
		TenantID:   ev.TenantID(),
		ProducerID: ev.ProducerID(),
		SourceApp:  ev.SourceApp(),
	}
}

func applyCaseCreated(state *model.Aggregate, ev *model.CaseCreated) Outcome {
	if state != nil {
		return structural(state, "case %s already exists", ev.Aggregate)
	}
	next := newAggregate(model.AggregateCase, ev)
	next.GroupingID = ev.GroupingID
	next.Tag = ev.Tag
	next.Title = ev.Title
	next.Link = ev.Link
	next.CreatedAt = model.NormalizeTime(ev.ReceivedAt)
	if ev.Retention != nil {
		at, err := ev.Retention.ResolveAt(ev.ReceivedAt)
		if err != nil {
			return structural(state, "case %s retention spec: %v", ev.Aggregate, err)
		}
		next.ScheduledDeletionAt = &at
	}
	return applied(next)
}

func applyNotificationCreated(state *model.Aggregate, ev *model.NotificationCreated) Outcome {
	if state != nil {
		return structural(state, "notification %s already exists", ev.Aggregate)
	}
	next := newAggregate(model.AggregateNotification, ev)
	next.GroupingID = ev.GroupingID
	next.Tag = ev.Tag
	next.Text = ev.Text
	next.Link = ev.Link
	next.ExternalID = ev.ExternalID
	next.CreatedAt = model.NormalizeTime(ev.ReceivedAt)
	if ev.Retention != nil {
		at, err := ev.Retention.ResolveAt(ev.ReceivedAt)
		if err != nil {
			return structural(state, "notification %s retention spec: %v", ev.Aggregate, err)
		}
		next.ScheduledDeletionAt = &at
	}
	return applied(next)
}

func applyAppointmentCreated(state *model.Aggregate, ev *model.AppointmentCreated) Outcome {
	if state != nil {
		return structural(state, "appointment %s already exists", ev.Aggregate)
	}
	next := newAggregate(model.AggregateAppointment, ev)
	next.GroupingID = ev.GroupingID
	next.Tag = ev.Tag
	next.Text = ev.Text
	next.Link = ev.Link
	next.ExternalID = ev.ExternalID
	next.CreatedAt = model.NormalizeTime(ev.ReceivedAt)
	startsAt := model.NormalizeTime(ev.StartsAt)
	next.StartsAt = &startsAt
	next.EndsAt = model.NormalizeTimePtr(ev.EndsAt)
	aptState := ev.State
	next.AppointmentState = &aptState

	if ev.Reminder != nil {
		trigger, err := ev.Reminder.ComputeTrigger(ev.ReceivedAt, ev.StartsAt)
		if err != nil {
			return structural(state, "appointment %s reminder: %v", ev.Aggregate, err)
		}
		next.Reminder = &model.ReminderState{
			Text:      ev.Reminder.Text,
			TriggerAt: trigger,
			Version:   1,
		}
	}
	if ev.Retention != nil {
		at, err := ev.Retention.ResolveAt(ev.ReceivedAt)
		if err != nil {
			return structural(state, "appointment %s retention spec: %v", ev.Aggregate, err)
		}
		next.ScheduledDeletionAt = &at
	}
	return applied(next)
}

func applyCaseStatusChanged(state *model.Aggregate, ev *model.CaseStatusChanged) Outcome {
	if state == nil {
		return structural(state, "status change for unknown case %s", ev.Aggregate)
	}
	if state.Kind != model.AggregateCase {
		return structural(state, "status change on %s aggregate %s", state.Kind, ev.Aggregate)
	}

	incoming := model.StatusEntry{
		ID:             ev.ID,
		Status:         ev.Status,
		OverrideText:   ev.OverrideText,
		SuppliedAt:     model.NormalizeTimePtr(ev.SuppliedAt),
		ReceivedAt:     model.NormalizeTime(ev.ReceivedAt),
		IdempotencyKey: ev.IdempotencyKey,
	}

	if existing := state.FindStatusEntry(ev.IdempotencyKey); existing != nil {
		if statusPayloadEqual(incoming, *existing) {
			return duplicate(state)
		}
		return conflict(state, "idempotency key reused with different payload on case %s", ev.Aggregate)
	}

	next := state.Clone()
	next.StatusUpdates = append(next.StatusUpdates, incoming)
	if ev.NewLink != nil {
		next.Link = *ev.NewLink
	}
	if ev.Retention != nil {
		at, err := ev.Retention.Apply(next.ScheduledDeletionAt, ev.ReceivedAt)
		if err != nil {
			return structural(state, "case %s retention update: %v", ev.Aggregate, err)
		}
		next.ScheduledDeletionAt = at
	}
	return applied(next)
}

// statusPayloadEqual compares the caller-controlled parts of a status
// update: status value, override text and the supplied timestamp. Supplied
// timestamps have been normalized (UTC, microsecond) on both sides.
func statusPayloadEqual(a, b model.StatusEntry) bool {
	if a.Status != b.Status {
		return false
	}
	if (a.OverrideText == nil) != (b.OverrideText == nil) {
		return false
	}
	if a.OverrideText != nil && *a.OverrideText != *b.OverrideText {
		return false
	}
	if (a.SuppliedAt == nil) != (b.SuppliedAt == nil) {
		return false
	}
	if a.SuppliedAt != nil && !a.SuppliedAt.Equal(*b.SuppliedAt) {
		return false
	}
	return true
}

func applyNotificationClicked(state *model.Aggregate, ev *model.NotificationClicked) Outcome {
	if state == nil {
		return structural(state, "click on unknown notification %s", ev.Aggregate)
	}
	for _, user := range state.ClickedBy {
		if user == ev.UserID {
			return duplicate(state)
		}
	}
	next := state.Clone()
	next.ClickedBy = append(next.ClickedBy, ev.UserID)
	return applied(next)
}

func applyAppointmentUpdated(state *model.Aggregate, ev *model.AppointmentUpdated) Outcome {
	if state == nil {
		return structural(state, "update for unknown appointment %s", ev.Aggregate)
	}
	if state.Kind != model.AggregateAppointment {
		return structural(state, "appointment update on %s aggregate %s", state.Kind, ev.Aggregate)
	}

	next := state.Clone()
	if ev.Text != nil {
		next.Text = *ev.Text
	}
	if ev.Link != nil {
		next.Link = *ev.Link
	}
	if ev.StartsAt != nil {
		startsAt := model.NormalizeTime(*ev.StartsAt)
		next.StartsAt = &startsAt
	}
	if ev.State != nil {
		aptState := *ev.State
		next.AppointmentState = &aptState
	}

	// The reminder is re-derived on every update, never patched in place:
	// an update that does not restate the reminder cancels it, and a
	// terminal appointment state cancels it regardless.
	prevVersion := 0
	if next.Reminder != nil {
		prevVersion = next.Reminder.Version
	}
	next.Reminder = nil
	if ev.Reminder != nil && (next.AppointmentState == nil || !next.AppointmentState.Terminal()) {
		if next.StartsAt == nil {
			return structural(state, "appointment %s reminder without start time", ev.Aggregate)
		}
		trigger, err := ev.Reminder.ComputeTrigger(next.CreatedAt, *next.StartsAt)
		if err != nil {
			return structural(state, "appointment %s reminder: %v", ev.Aggregate, err)
		}
		next.Reminder = &model.ReminderState{
			Text:      ev.Reminder.Text,
			TriggerAt: trigger,
			Version:   prevVersion + 1,
		}
	}

	if ev.Retention != nil {
		at, err := ev.Retention.Apply(next.ScheduledDeletionAt, ev.ReceivedAt)
		if err != nil {
			return structural(state, "appointment %s retention update: %v", ev.Aggregate, err)
		}
		next.ScheduledDeletionAt = at
	}
	return applied(next)
}

func applyReminderFired(state *model.Aggregate, ev *model.ReminderFired) Outcome {
	if state == nil {
		return structural(state, "reminder fired for unknown aggregate %s", ev.Aggregate)
	}
	if state.Reminder == nil || state.Reminder.Version != ev.Version {
		// A stale fire for a superseded reminder version. Harmless.
		return duplicate(state)
	}
	if state.Reminder.Fired {
		return duplicate(state)
	}
	next := state.Clone()
	next.Reminder.Fired = true
	return applied(next)
}

func applySoftDeleted(state *model.Aggregate, ev *model.SoftDeleted) Outcome {
	if state == nil {
		return structural(state, "soft delete for unknown aggregate %s", ev.Aggregate)
	}
	if state.SoftDeleted {
		return duplicate(state)
	}
	next := state.Clone()
	next.SoftDeleted = true
	deletedAt := model.NormalizeTime(ev.DeletedAt)
	next.SoftDeletedAt = &deletedAt
	next.Reminder = nil
	return applied(next)
}

func applyHardDeleted(state *model.Aggregate, ev *model.HardDeleted) Outcome {
	if state == nil {
		// Also hit when the retention engine re-emits a delete after a
		// restart: the first one removed the row, the repeat lands here.
		return structural(state, "hard delete for unknown aggregate %s", ev.Aggregate)
	}
	return applied(nil)
}
