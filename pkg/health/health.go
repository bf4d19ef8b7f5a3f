// Package health is an explicit registry of per-subsystem liveness and
// readiness flags. Components receive a *Registry and flip their own flags;
// the HTTP health endpoints aggregate the snapshot. There is no ambient
// global state.
package health

import "sync"

// Subsystem names used across the platform.
const (
	SubsystemDatabase          = "database"
	SubsystemEventLog          = "eventlog"
	SubsystemReminderScheduler = "reminder_scheduler"
	SubsystemRetentionEngine   = "retention_engine"
	SubsystemReplayValidator   = "replay_validator"
)

// Registry tracks boolean health flags keyed by subsystem name.
type Registry struct {
	mu    sync.RWMutex
	alive map[string]bool
	ready map[string]bool
}

// NewRegistry returns an empty registry. Unregistered subsystems are
// considered alive and not ready.
func NewRegistry() *Registry {
	return &Registry{
		alive: make(map[string]bool),
		ready: make(map[string]bool),
	}
}

// SetAlive flips the liveness flag for a subsystem.
func (r *Registry) SetAlive(subsystem string, alive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[subsystem] = alive
}

// SetReady flips the readiness flag for a subsystem.
func (r *Registry) SetReady(subsystem string, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready[subsystem] = ready
}

// Alive reports whether every registered subsystem is alive.
func (r *Registry) Alive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ok := range r.alive {
		if !ok {
			return false
		}
	}
	return true
}

// Ready reports whether every registered subsystem is ready.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ok := range r.ready {
		if !ok {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of both flag maps for reporting.
func (r *Registry) Snapshot() (alive, ready map[string]bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alive = make(map[string]bool, len(r.alive))
	ready = make(map[string]bool, len(r.ready))
	for k, v := range r.alive {
		alive[k] = v
	}
	for k, v := range r.ready {
		ready[k] = v
	}
	return alive, ready
}
