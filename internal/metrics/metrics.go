// Package metrics declares the Prometheus collectors exported by the service.
// Collectors are registered with the default registry on package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksEnqueuedTotal counts accepted tasks.
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_enqueued_total",
			Help: "Total number of tasks accepted by the queue.",
		},
		[]string{"task_type"},
	)

	// TaskAttemptsTotal counts finished execution attempts by outcome
	// (completed, retried, failed).
	TaskAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_task_attempts_total",
			Help: "Total number of task execution attempts by outcome.",
		},
		[]string{"task_type", "outcome"},
	)

	// TaskDurationSeconds observes handler execution time.
	TaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_task_duration_seconds",
			Help:    "Duration of task handler executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 16),
		},
		[]string{"task_type"},
	)

	// TasksCancelledTotal counts cancelled pending tasks.
	TasksCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_cancelled_total",
			Help: "Total number of pending tasks cancelled by producers.",
		},
	)

	// ClaimErrorsTotal counts failed claim attempts by the dispatcher.
	ClaimErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskqueue_claim_errors_total",
			Help: "Total number of failed claim attempts.",
		},
	)

	// ReportErrorsTotal counts outcomes a worker could not record.
	ReportErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskqueue_report_errors_total",
			Help: "Total number of task outcomes that could not be recorded.",
		},
	)

	// StaleTasksRecoveredTotal counts running tasks failed by the lease monitor.
	StaleTasksRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskqueue_stale_tasks_recovered_total",
			Help: "Total number of running tasks recovered after their lease expired.",
		},
	)

	// TasksPurgedTotal counts finished tasks removed by retention.
	TasksPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_purged_total",
			Help: "Total number of finished tasks removed by the retention job.",
		},
	)

	// WorkersBusy is the number of workers currently running a task.
	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskqueue_workers_busy",
			Help: "Number of workers currently executing a task.",
		},
	)

	// Tasks is the number of stored tasks per status, refreshed by the reporter.
	Tasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskqueue_tasks",
			Help: "Number of stored tasks per status.",
		},
		[]string{"status"},
	)
)

// Attempt outcomes used as the "outcome" label of TaskAttemptsTotal.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)
