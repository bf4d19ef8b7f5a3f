// Package eventlog is the platform's append-only, partitioned event log.
// Events for one tenant always land in the same lane and are delivered in
// publish order; nothing is guaranteed across lanes. Delivery is
// at-least-once: consumers acknowledge a record only after it has been
// durably applied, so every fold downstream must be idempotent.
package eventlog

import (
	"context"

	"github.com/google/uuid"

	"github.com/varsling/notification-platform/internal/model"
)

// Record is one entry as read from a lane.
type Record struct {
	// Key is the aggregate id the event belongs to.
	Key string
	// Payload is the event envelope; nil marks a tombstone.
	Payload []byte
	// Partition is the lane the record was read from.
	Partition int
	// Offset is the position within the lane, in lane order.
	Offset string
}

// Tombstone reports whether the record is a deletion marker.
func (r Record) Tombstone() bool { return r.Payload == nil }

// Event decodes the record payload. Returns nil for tombstones.
func (r Record) Event() (model.Event, error) {
	if r.Tombstone() {
		return nil, nil
	}
	return model.UnmarshalEvent(r.Payload)
}

// Handler processes one record. Returning an error leaves the record
// unacknowledged so it will be redelivered.
type Handler func(ctx context.Context, rec Record) error

// SubscribeOptions control where a consumer group starts reading.
type SubscribeOptions struct {
	// FromBeginning resets the group to the start of every lane before
	// consuming. Used for full replays.
	FromBeginning bool
}

// Log is the event transport. Publish chooses the lane from the event's
// tenant id so per-tenant FIFO holds end to end.
type Log interface {
	Publish(ctx context.Context, ev model.Event) error
	// Tombstone appends a deletion marker for the aggregate. The lane is
	// selected from the tenant id so the marker lands behind every prior
	// event for that tenant.
	Tombstone(ctx context.Context, aggregateID uuid.UUID, tenantID string) error
	// Subscribe consumes every lane on behalf of the named group, calling
	// handler in lane order, and blocks until ctx is cancelled.
	Subscribe(ctx context.Context, group string, opts SubscribeOptions, handler Handler) error
	PartitionCount() int
	Close() error
}
