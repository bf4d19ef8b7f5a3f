package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyRegistryIsAliveAndReady(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Alive())
	assert.True(t, r.Ready())
}

func TestOneUnhealthySubsystemFlipsAggregate(t *testing.T) {
	r := NewRegistry()
	r.SetAlive(SubsystemDatabase, true)
	r.SetAlive(SubsystemRetentionEngine, true)
	assert.True(t, r.Alive())

	r.SetAlive(SubsystemRetentionEngine, false)
	assert.False(t, r.Alive())

	r.SetAlive(SubsystemRetentionEngine, true)
	assert.True(t, r.Alive())
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.SetAlive(SubsystemEventLog, true)
	r.SetReady(SubsystemEventLog, false)

	alive, ready := r.Snapshot()
	assert.True(t, alive[SubsystemEventLog])
	assert.False(t, ready[SubsystemEventLog])

	alive[SubsystemEventLog] = false
	assert.True(t, r.Alive())
}
