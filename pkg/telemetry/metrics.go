package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "tasklease"
	subsystem = "worker"
)

// Outcome labels for WorkerTasksProcessed.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
)

var (
	WorkerTasksFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tasks_fetched_total",
		Help:      "Tasks moved from a priority queue into a processing list.",
	}, []string{"queue"})

	WorkerTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tasks_processed_total",
		Help:      "Handled tasks by outcome: completed, failed, duplicate or skipped.",
	}, []string{"outcome"})

	WorkerTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tasks_inflight",
		Help:      "Tasks currently held under lock by this worker.",
	})

	WorkerTaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "task_duration_seconds",
		Help:      "Time from lock acquisition to terminal state, retries included.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"phase"})

	WorkerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "retries_total",
		Help:      "Retry attempts scheduled after a failed execution.",
	}, []string{"phase"})

	WorkerLockContention = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "lock_contention_total",
		Help:      "Deliveries dropped because another worker held the task lock.",
	})

	WorkerRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "recovered_total",
		Help:      "Tasks found in this worker's processing list at startup.",
	})

	WorkerMalformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "malformed_total",
		Help:      "Unparseable records dropped from a queue.",
	}, []string{"queue"})

	WorkerReportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "report_failures_total",
		Help:      "Results the collector did not acknowledge.",
	})

	WorkerDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "dlq_total",
		Help:      "Terminally failed tasks forwarded to the dead-letter topic.",
	})
)
