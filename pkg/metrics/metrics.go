package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Fold metrics: one series per projection and outcome
	// (applied, duplicate_ignored, conflict, structural_error).
	EventsFolded    *prometheus.CounterVec
	FoldLatency     *prometheus.HistogramVec
	EventsPublished *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec

	// Reminder scheduler metrics
	RemindersPending prometheus.Gauge
	RemindersFired   prometheus.Counter
	ReminderScanTime prometheus.Histogram

	// Retention engine metrics
	RetentionDeletes prometheus.Counter
	RetentionSkipped *prometheus.CounterVec

	// Storage metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec
}

// New creates and registers all application metrics
func New(namespace string) *Metrics {
	return &Metrics{
		EventsFolded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_folded_total",
			Help:      "Total number of events folded into projections, by outcome",
		}, []string{"projection", "outcome"}),
		FoldLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_fold_duration_seconds",
			Help:      "Time spent applying and persisting one event",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"projection"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published to the log",
		}, []string{"kind"}),
		PublishFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Total number of failed event publishes",
		}, []string{"kind"}),

		RemindersPending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reminders_pending",
			Help:      "Current number of pending reminder entries",
		}),
		RemindersFired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Total number of reminder-fired events emitted",
		}),
		ReminderScanTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reminder_scan_duration_seconds",
			Help:      "Duration of one reminder scan-and-fire pass",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),

		RetentionDeletes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deletes_total",
			Help:      "Total number of hard-delete events emitted by the retention engine",
		}),
		RetentionSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_skipped_total",
			Help:      "Retention candidates skipped, by reason",
		}, []string{"reason"}),

		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
	}
}

// NewUnregistered returns metrics backed by a private registry, for tests
// that construct more than one instance per process.
func NewUnregistered(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		EventsFolded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_folded_total",
			Help:      "Total number of events folded into projections, by outcome",
		}, []string{"projection", "outcome"}),
		FoldLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_fold_duration_seconds",
			Help:      "Time spent applying and persisting one event",
		}, []string{"projection"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published to the log",
		}, []string{"kind"}),
		PublishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Total number of failed event publishes",
		}, []string{"kind"}),
		RemindersPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reminders_pending",
			Help:      "Current number of pending reminder entries",
		}),
		RemindersFired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Total number of reminder-fired events emitted",
		}),
		ReminderScanTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reminder_scan_duration_seconds",
			Help:      "Duration of one reminder scan-and-fire pass",
		}),
		RetentionDeletes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deletes_total",
			Help:      "Total number of hard-delete events emitted by the retention engine",
		}),
		RetentionSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_skipped_total",
			Help:      "Retention candidates skipped, by reason",
		}, []string{"reason"}),
		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
		}, []string{"operation"}),
	}
}
