// The worker binary runs the reminder scheduler, the retention engine and
// the email notifier against the shared event log.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/varsling/notification-platform/internal/config"
	"github.com/varsling/notification-platform/internal/eventlog"
	healthhandler "github.com/varsling/notification-platform/internal/handler/health"
	"github.com/varsling/notification-platform/internal/notifier"
	"github.com/varsling/notification-platform/internal/orgreg"
	"github.com/varsling/notification-platform/internal/projection"
	"github.com/varsling/notification-platform/internal/reminder"
	"github.com/varsling/notification-platform/internal/repository/postgres"
	"github.com/varsling/notification-platform/internal/retention"
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
	m := metrics.New("notification_worker")
	registry := health.NewRegistry()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()
	registry.SetAlive(health.SubsystemDatabase, true)
	registry.SetReady(health.SubsystemDatabase, true)

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
	registry.SetReady(health.SubsystemEventLog, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Reminder scheduler: index rebuilt from the log, scan loop fires due
	// reminders.
	scheduler := reminder.NewScheduler(eventLog, cfg.SourceApp, log, m)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.NewReminderWorker(scheduler, eventLog, cfg.Reminder.ScanInterval, registry, log).Start(ctx)
	}()

	// Retention engine over the user projection's table.
	engine := retention.NewEngine(store, eventLog, registry, retention.Config{
		Environment:            cfg.Environment,
		SuppressedEnvironments: cfg.Retention.SuppressedEnvironments,
		SourceApp:              cfg.SourceApp,
	}, log, m)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.NewRetentionWorker(engine, cfg.Retention.ScanInterval, registry, log).Start(ctx)
	}()

	// Email notifier: consumes fired reminders under its own group.
	if cfg.SMTP.Enabled {
		orgs := orgreg.NewClient(orgreg.Config{
			BaseURL:  cfg.OrgRegistry.BaseURL,
			CacheTTL: cfg.OrgRegistry.CacheTTL,
		}, log)
		mailer := notifier.NewSMTPMailer(notifier.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		view := projection.New("user-read", store, log, m)
		email := notifier.NewEmailNotifier(mailer, notifier.StaticDirectory(cfg.SMTP.Contacts), orgs, view, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := eventLog.Subscribe(ctx, "email-notifier", eventlog.SubscribeOptions{}, email.HandleRecord)
			if err != nil && ctx.Err() == nil {
				log.Error(err, "email notifier subscription ended")
			}
		}()
	}

	r := router.New(log, healthhandler.NewHandler(registry), router.Config{})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: r.Engine(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "health server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	cancel()
	wg.Wait()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server shutdown failed")
	}
}
