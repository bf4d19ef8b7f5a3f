package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func durationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

func TestDeleteSpecResolveAt(t *testing.T) {
	abs := base.Add(30 * 24 * time.Hour)

	at, err := DeleteSpec{At: &abs}.ResolveAt(base)
	require.NoError(t, err)
	assert.Equal(t, abs, at)

	at, err = DeleteSpec{After: durationPtr(48 * time.Hour)}.ResolveAt(base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(48*time.Hour), at)

	_, err = DeleteSpec{}.ResolveAt(base)
	assert.Error(t, err)

	_, err = DeleteSpec{At: &abs, After: durationPtr(time.Hour)}.ResolveAt(base)
	assert.Error(t, err)
}

func TestDeleteSpecUpdateStrategies(t *testing.T) {
	current := base.Add(10 * 24 * time.Hour)
	earlier := DeleteSpec{After: durationPtr(24 * time.Hour)}

	// EXTEND never shortens an existing schedule.
	got, err := DeleteSpecUpdate{Spec: earlier, Strategy: DeleteStrategyExtend}.Apply(&current, base)
	require.NoError(t, err)
	assert.Equal(t, current, *got)

	// OVERWRITE always takes the new time, even when earlier.
	got, err = DeleteSpecUpdate{Spec: earlier, Strategy: DeleteStrategyOverwrite}.Apply(&current, base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(24*time.Hour), *got)

	// EXTEND with no current schedule sets one.
	got, err = DeleteSpecUpdate{Spec: earlier, Strategy: DeleteStrategyExtend}.Apply(nil, base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(24*time.Hour), *got)
}

func TestComputeTriggerBounds(t *testing.T) {
	startsAt := base.Add(7 * 24 * time.Hour)

	trigger, err := ReminderSpec{BeforeStart: durationPtr(24 * time.Hour)}.ComputeTrigger(base, startsAt)
	require.NoError(t, err)
	assert.Equal(t, startsAt.Add(-24*time.Hour), trigger)

	// At or before creation is out of range.
	_, err = ReminderSpec{BeforeStart: durationPtr(7 * 24 * time.Hour)}.ComputeTrigger(base, startsAt)
	assert.Error(t, err)

	// At or after the start is out of range.
	atStart := startsAt
	_, err = ReminderSpec{At: &atStart}.ComputeTrigger(base, startsAt)
	assert.Error(t, err)

	_, err = ReminderSpec{}.ComputeTrigger(base, startsAt)
	assert.Error(t, err)
}

func TestNormalizeTime(t *testing.T) {
	oslo := time.FixedZone("CEST", 2*60*60)
	local := time.Date(2024, 5, 1, 14, 0, 0, 123456789, oslo)
	got := NormalizeTime(local)

	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123456000, got.Nanosecond())
	assert.True(t, got.Equal(local.Truncate(time.Microsecond)))
}

func TestIdempotencyKeyEquality(t *testing.T) {
	assert.Equal(t, UserSupplied("op-1"), UserSupplied("op-1"))
	assert.NotEqual(t, UserSupplied("op-1"), UserSupplied("op-2"))

	// A generated key never collides with a user key of the same value.
	id := uuid.New()
	assert.NotEqual(t, UserSupplied(id.String()), Generated(id))
}

func TestEventEnvelopeRoundTrip(t *testing.T) {
	ev := &CaseStatusChanged{
		Meta:           NewMeta(uuid.New(), "910825526", "producer-1", "producer-app"),
		Status:         CaseStatusInProgress,
		ReceivedAt:     base,
		IdempotencyKey: UserSupplied("op-1"),
	}
	data, err := MarshalEvent(ev)
	require.NoError(t, err)

	decoded, err := UnmarshalEvent(data)
	require.NoError(t, err)
	got, ok := decoded.(*CaseStatusChanged)
	require.True(t, ok)
	assert.Equal(t, ev.IdempotencyKey, got.IdempotencyKey)
	assert.True(t, ev.ReceivedAt.Equal(got.ReceivedAt))
}

func TestUnmarshalUnknownKindRejected(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"kind":"SOMETHING_ELSE","payload":{}}`))
	assert.Error(t, err)
}
