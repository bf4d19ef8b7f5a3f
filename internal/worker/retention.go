package worker

import (
	"context"
	"time"

	"github.com/varsling/notification-platform/internal/retention"
	"github.com/varsling/notification-platform/pkg/health"
	"github.com/varsling/notification-platform/pkg/logger"
)

type RetentionWorker struct {
	engine   *retention.Engine
	interval time.Duration
	health   *health.Registry
	logger   *logger.Logger
}

func NewRetentionWorker(engine *retention.Engine, interval time.Duration, reg *health.Registry, l *logger.Logger) *RetentionWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{
		engine:   engine,
		interval: interval,
		health:   reg,
		logger:   l.WithComponent("retention-worker"),
	}
}

// Start runs the due-deletion scan on every tick until ctx is cancelled.
// A failed scan is retried on the next tick; emission is idempotent so
// overlap with a previous partial scan is safe.
func (w *RetentionWorker) Start(ctx context.Context) {
	w.health.SetAlive(health.SubsystemRetentionEngine, true)
	w.health.SetReady(health.SubsystemRetentionEngine, true)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting retention worker", "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down retention worker")
			return
		case <-ticker.C:
			if err := w.engine.ProcessDueDeletions(ctx, time.Now()); err != nil {
				w.logger.Error(err, "retention scan failed")
			}
		}
	}
}
