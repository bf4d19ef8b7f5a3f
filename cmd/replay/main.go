// The replay binary rebuilds the projection from the start of the log
// into memory, validates it and prints the report. Exit code 1 means the
// log failed validation.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/varsling/notification-platform/internal/config"
	"github.com/varsling/notification-platform/internal/eventlog"
	"github.com/varsling/notification-platform/internal/replay"
	"github.com/varsling/notification-platform/pkg/health"
	"github.com/varsling/notification-platform/pkg/logger"
	"github.com/varsling/notification-platform/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(nil)
	m := metrics.New("notification_replay")

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

	validator := replay.NewValidator(eventLog, health.NewRegistry(), log, m)
	report, err := validator.Run(context.Background())
	if err != nil {
		log.Fatal(err, "replay failed")
	}

	fmt.Printf("records:              %d\n", report.Records)
	fmt.Printf("tombstones:           %d\n", report.Tombstones)
	fmt.Printf("applied:              %d\n", report.Applied)
	fmt.Printf("duplicates:           %d\n", report.Duplicates)
	fmt.Printf("conflicts:            %d\n", report.Conflicts)
	fmt.Printf("structural errors:    %d\n", report.StructuralErrors)
	fmt.Printf("undecodable:          %d\n", report.Undecodable)
	fmt.Printf("partition mismatches: %d\n", report.PartitionMismatches)
	fmt.Printf("aggregates:           %d\n", report.Aggregates)

	if !report.Healthy() {
		os.Exit(1)
	}
}
