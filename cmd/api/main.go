// The api binary serves the producer-facing write API and folds the
// producer projection.
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
	"github.com/varsling/notification-platform/internal/handler/producer"
	"github.com/varsling/notification-platform/internal/middleware"
	"github.com/varsling/notification-platform/internal/projection"
	"github.com/varsling/notification-platform/internal/repository/postgres"
	"github.com/varsling/notification-platform/internal/router"
	"github.com/varsling/notification-platform/pkg/auth"
	"github.com/varsling/notification-platform/pkg/health"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
	"github.com/varsling/notification-platform/pkg/validator"
)

const producerTable = "producer_aggregates"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(nil)
	m := metrics.New("notification_api")
	registry := health.NewRegistry()

	if err := validator.Register(); err != nil {
		log.Fatal(err, "failed to register validations")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()
	registry.SetAlive(health.SubsystemDatabase, true)

	store := postgres.NewAggregateStore(db, producerTable, m)
	if err := store.Migrate(context.Background()); err != nil {
		log.Fatal(err, "failed to migrate producer table")
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

	view := projection.New("producer", store, log, m)
	go func() {
		err := eventLog.Subscribe(ctx, "producer-projection", eventlog.SubscribeOptions{}, view.HandleRecord)
		if err != nil && ctx.Err() == nil {
			log.Error(err, "producer projection subscription ended")
			registry.SetAlive(health.SubsystemEventLog, false)
		}
	}()
	registry.SetReady(health.SubsystemEventLog, true)
	registry.SetReady(health.SubsystemDatabase, true)

	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	r := router.New(log, healthhandler.NewHandler(registry), router.Config{
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
	})
	r.RegisterProtected(middleware.NewAuthMiddleware(jwtSvc), producer.NewHandler(eventLog, view, log))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info("producer api listening", "port", cfg.API.Port)
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
