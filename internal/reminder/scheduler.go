// Package reminder derives an in-memory index of pending reminders from
// the event stream and turns "trigger time reached" into reminder-fired
// events. The index is rebuilt by replaying the log from the beginning on
// every start; fired versions are part of the stream, so a restart never
// re-fires a version that already went out.
package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/model"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
)

const fireWorkers = 8

// appointment is the scheduler's view of one aggregate: just enough to
// recompute triggers and version reminders. Reminders are re-derived on
// every relevant event, never patched incrementally.
type appointment struct {
	tenantID   string
	producerID string
	createdAt  time.Time
	startsAt   time.Time
	version    int
	pending    *pendingReminder
}

type pendingReminder struct {
	text      string
	triggerAt time.Time
	version   int
}

type firedKey struct {
	aggregateID uuid.UUID
	version     int
}

// Scheduler folds appointment events into pending reminder state and
// emits ReminderFired events on SendDue.
type Scheduler struct {
	publisher eventlog.Log
	sourceApp string
	limiter   *rate.Limiter
	logger    *logger.Logger
	metrics   *metrics.Metrics

	mu           sync.Mutex
	appointments map[uuid.UUID]*appointment
	fired        map[firedKey]struct{}
}

func NewScheduler(publisher eventlog.Log, sourceApp string, log *logger.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		publisher:    publisher,
		sourceApp:    sourceApp,
		limiter:      rate.NewLimiter(rate.Limit(100), 100),
		logger:       log.WithComponent("reminder-scheduler"),
		metrics:      m,
		appointments: make(map[uuid.UUID]*appointment),
		fired:        make(map[firedKey]struct{}),
	}
}

// HandleRecord is the event log consumer entry point.
func (s *Scheduler) HandleRecord(ctx context.Context, rec eventlog.Record) error {
	if rec.Tombstone() {
		if id, err := uuid.Parse(rec.Key); err == nil {
			s.remove(id)
		}
		return nil
	}
	ev, err := rec.Event()
	if err != nil {
		s.logger.Error(err, "undecodable event skipped", "offset", rec.Offset)
		return nil
	}
	s.Process(ev)
	return nil
}

// Process folds one event into the reminder index.
func (s *Scheduler) Process(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case *model.AppointmentCreated:
		apt := &appointment{
			tenantID:   e.Tenant,
			producerID: e.Producer,
			createdAt:  model.NormalizeTime(e.ReceivedAt),
			startsAt:   model.NormalizeTime(e.StartsAt),
		}
		if e.Reminder != nil && !e.State.Terminal() {
			trigger, err := e.Reminder.ComputeTrigger(e.ReceivedAt, e.StartsAt)
			if err != nil {
				s.logger.Warn("reminder out of range at creation, not scheduled",
					"aggregate_id", e.Aggregate.String(), "error", err.Error())
			} else {
				apt.version = 1
				apt.pending = &pendingReminder{text: e.Reminder.Text, triggerAt: trigger, version: 1}
			}
		}
		s.appointments[e.Aggregate] = apt

	case *model.AppointmentUpdated:
		apt, ok := s.appointments[e.Aggregate]
		if !ok {
			return
		}
		if e.StartsAt != nil {
			apt.startsAt = model.NormalizeTime(*e.StartsAt)
		}
		terminal := e.State != nil && e.State.Terminal()

		// Any update supersedes the pending reminder: it is either
		// cancelled or replaced with a fresh version.
		apt.pending = nil
		if e.Reminder != nil && !terminal {
			trigger, err := e.Reminder.ComputeTrigger(apt.createdAt, apt.startsAt)
			if err != nil {
				s.logger.Warn("updated reminder out of range, not scheduled",
					"aggregate_id", e.Aggregate.String(), "error", err.Error())
			} else {
				apt.version++
				apt.pending = &pendingReminder{text: e.Reminder.Text, triggerAt: trigger, version: apt.version}
			}
		}

	case *model.ReminderFired:
		// Our own emissions fold back in; this is what makes a restart
		// safe before the index catches up.
		s.fired[firedKey{aggregateID: e.Aggregate, version: e.Version}] = struct{}{}
		if apt, ok := s.appointments[e.Aggregate]; ok && apt.pending != nil && apt.pending.version == e.Version {
			apt.pending = nil
		}

	case *model.SoftDeleted:
		s.removeLocked(e.Aggregate)
	case *model.HardDeleted:
		s.removeLocked(e.Aggregate)
	}
	s.metrics.RemindersPending.Set(float64(s.pendingCountLocked()))
}

func (s *Scheduler) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id uuid.UUID) {
	delete(s.appointments, id)
}

func (s *Scheduler) pendingCountLocked() int {
	n := 0
	for _, apt := range s.appointments {
		if apt.pending != nil {
			n++
		}
	}
	return n
}

type dueReminder struct {
	aggregateID uuid.UUID
	tenantID    string
	producerID  string
	triggerAt   time.Time
	version     int
}

// SendDue fires every pending reminder whose trigger time has passed,
// exactly once per (aggregate, version). Different aggregates fire in
// parallel; a single aggregate can only ever have one due entry, so
// per-aggregate serialization comes for free.
func (s *Scheduler) SendDue(ctx context.Context, now time.Time) error {
	timer := prometheus.NewTimer(s.metrics.ReminderScanTime)
	defer timer.ObserveDuration()

	due := s.collectDue(now)
	if len(due) == 0 {
		return nil
	}

	jobs := make(chan dueReminder)
	var wg sync.WaitGroup
	for i := 0; i < fireWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				s.fire(ctx, d, now)
			}
		}()
	}
	for _, d := range due {
		jobs <- d
	}
	close(jobs)
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) collectDue(now time.Time) []dueReminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []dueReminder
	for id, apt := range s.appointments {
		if apt.pending == nil || apt.pending.triggerAt.After(now) {
			continue
		}
		if _, done := s.fired[firedKey{aggregateID: id, version: apt.pending.version}]; done {
			continue
		}
		due = append(due, dueReminder{
			aggregateID: id,
			tenantID:    apt.tenantID,
			producerID:  apt.producerID,
			triggerAt:   apt.pending.triggerAt,
			version:     apt.pending.version,
		})
	}
	return due
}

func (s *Scheduler) fire(ctx context.Context, d dueReminder, now time.Time) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	ev := &model.ReminderFired{
		Meta:      model.NewMeta(d.aggregateID, d.tenantID, d.producerID, s.sourceApp),
		Version:   d.version,
		TriggerAt: d.triggerAt,
		FiredAt:   model.NormalizeTime(now),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		// Not marked fired: the next scan retries this version.
		s.logger.Error(err, "failed to publish reminder",
			"aggregate_id", d.aggregateID.String(), "version", d.version)
		return
	}

	s.mu.Lock()
	s.fired[firedKey{aggregateID: d.aggregateID, version: d.version}] = struct{}{}
	if apt, ok := s.appointments[d.aggregateID]; ok && apt.pending != nil && apt.pending.version == d.version {
		apt.pending = nil
	}
	s.mu.Unlock()

	s.metrics.RemindersFired.Inc()
	s.logger.Info("reminder fired",
		"aggregate_id", d.aggregateID.String(), "tenant_id", d.tenantID, "version", d.version)
}
