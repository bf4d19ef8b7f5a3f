// Package worker holds the long-running background loops: the reminder
// scan and the retention scan. Each worker owns a ticker and stops on
// context cancellation.
package worker

import (
	"context"
	"time"

	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/reminder"
	"github.com/varsling/notification-platform/pkg/health"
	"github.com/varsling/notification-platform/pkg/logger"
)

const reminderGroup = "reminder-scheduler"

type ReminderWorker struct {
	scheduler    *reminder.Scheduler
	log          eventlog.Log
	scanInterval time.Duration
	health       *health.Registry
	logger       *logger.Logger
}

func NewReminderWorker(scheduler *reminder.Scheduler, log eventlog.Log, scanInterval time.Duration, reg *health.Registry, l *logger.Logger) *ReminderWorker {
	if scanInterval <= 0 {
		scanInterval = time.Minute
	}
	return &ReminderWorker{
		scheduler:    scheduler,
		log:          log,
		scanInterval: scanInterval,
		health:       reg,
		logger:       l.WithComponent("reminder-worker"),
	}
}

// Start consumes the log into the scheduler's index and scans for due
// reminders on every tick. The index subscription always starts from the
// beginning: fired versions live in the log, so rebuilding cannot cause a
// re-fire. Blocks until ctx is cancelled.
func (w *ReminderWorker) Start(ctx context.Context) {
	w.health.SetAlive(health.SubsystemReminderScheduler, true)

	go func() {
		opts := eventlog.SubscribeOptions{FromBeginning: true}
		if err := w.log.Subscribe(ctx, reminderGroup, opts, w.scheduler.HandleRecord); err != nil && ctx.Err() == nil {
			w.logger.Error(err, "reminder subscription ended")
			w.health.SetAlive(health.SubsystemReminderScheduler, false)
		}
	}()
	w.health.SetReady(health.SubsystemReminderScheduler, true)

	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	w.logger.Info("starting reminder worker", "scan_interval", w.scanInterval.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down reminder worker")
			return
		case <-ticker.C:
			if err := w.scheduler.SendDue(ctx, time.Now()); err != nil {
				w.logger.Error(err, "reminder scan failed")
			}
		}
	}
}
