package worker

import (
	"context"
	"time"

	"github.com/varsling/notification-platform/internal/orgreg"
	"github.com/varsling/notification-platform/pkg/logger"
)

// TenantSource lists the tenants whose org names are worth keeping warm.
type TenantSource interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// OrgRegRefreshWorker re-resolves every known tenant's organization name
// on an interval so user-facing reads rarely hit the registry directly.
type OrgRegRefreshWorker struct {
	client   *orgreg.Client
	tenants  TenantSource
	interval time.Duration
	logger   *logger.Logger
}

func NewOrgRegRefreshWorker(client *orgreg.Client, tenants TenantSource, interval time.Duration, l *logger.Logger) *OrgRegRefreshWorker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &OrgRegRefreshWorker{
		client:   client,
		tenants:  tenants,
		interval: interval,
		logger:   l.WithComponent("orgreg-refresh"),
	}
}

func (w *OrgRegRefreshWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting org registry refresh worker", "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down org registry refresh worker")
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *OrgRegRefreshWorker) refresh(ctx context.Context) {
	tenants, err := w.tenants.ListTenants(ctx)
	if err != nil {
		w.logger.Error(err, "failed to list tenants for cache warm")
		return
	}
	w.client.Warm(ctx, tenants)
	w.logger.Info("org name cache warmed", "tenants", len(tenants))
}
