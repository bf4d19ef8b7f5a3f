// The consumer binary folds the user projection, serves the read API and
// keeps the organization name cache warm.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/varsling/notification-platform/internal/config"
	"github.com/varsling/notification-platform/internal/eventlog"
	healthhandler "github.com/varsling/notification-platform/internal/handler/health"
	"github.com/varsling/notification-platform/internal/handler/reader"
	"github.com/varsling/notification-platform/internal/orgreg"
	"github.com/varsling/notification-platform/internal/projection"
	"github.com/varsling/notification-platform/internal/repository/postgres"
	"github.com/varsling/notification-platform/internal/router"
	"github.com/varsling/notification-platform/internal/worker"
	"github.com/varsling/notification-platform/pkg/health"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
)

const userTable = "user_aggregates"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(nil)
	m := metrics.New("notification_consumer")
	registry := health.NewRegistry()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()
	registry.SetAlive(health.SubsystemDatabase, true)

	store := postgres.NewAggregateStore(db, userTable, m)
	if err := store.Migrate(context.Background()); err != nil {
		log.Fatal(err, "failed to migrate user table")
	}

	eventLog, err := eventlog.NewRedisLog(eventlog.RedisConfig{
		URL:          cfg.Redis.URL,
		StreamBase:   cfg.Redis.StreamBase,
		Partitions:   cfg.Redis.Partitions,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: time.Duration(cfg.Redis.RetryBackoff) * time.Millisecond,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, log, m)
	if err != nil {
		log.Fatal(err, "failed to connect to event log")
	}
	defer eventLog.Close()
	registry.SetAlive(health.SubsystemEventLog, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view := projection.New("user", store, log, m)
	go func() {
		err := eventLog.Subscribe(ctx, "user-projection", eventlog.SubscribeOptions{}, view.HandleRecord)
		if err != nil && ctx.Err() == nil {
			log.Error(err, "user projection subscription ended")
			registry.SetAlive(health.SubsystemEventLog, false)
		}
	}()
	registry.SetReady(health.SubsystemEventLog, true)
	registry.SetReady(health.SubsystemDatabase, true)

	orgs := orgreg.NewClient(orgreg.Config{
		BaseURL:  cfg.OrgRegistry.BaseURL,
		CacheTTL: cfg.OrgRegistry.CacheTTL,
	}, log)
	go worker.NewOrgRegRefreshWorker(orgs, store, cfg.OrgRegistry.RefreshInterval, log).Start(ctx)

	r := router.New(log, healthhandler.NewHandler(registry), router.Config{
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
	})
	r.RegisterPublic(reader.NewHandler(view, eventLog, orgs, log))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info("read api listening", "port", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server shutdown failed")
	}
}
