package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksMaterialized counts tasks written by plan executions.
	TasksMaterialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_tasks_materialized_total",
			Help: "Total number of publish tasks created from plans",
		},
		[]string{"platform", "status"},
	)

	DedupSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_dedup_suppressed_total",
			Help: "Pairings dropped because the content was already published inside the window",
		},
		[]string{"platform"},
	)

	TaskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_task_transitions_total",
			Help: "Task status transitions applied",
		},
		[]string{"from", "to"},
	)

	LifecycleRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_lifecycle_rejections_total",
			Help: "Lifecycle operations rejected, by operation and reason",
		},
		[]string{"operation", "reason"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fanout_publish_duration_seconds",
			Help:    "Publisher execution time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
		[]string{"platform", "outcome"},
	)

	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fanout_tasks",
			Help: "Number of stored tasks per status",
		},
		[]string{"status"},
	)
)
