package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksEnqueued tracks check tasks appended by the scheduler
	TasksEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uptime_tasks_enqueued_total",
			Help: "Total number of check tasks appended to the queue",
		},
	)

	// SchedulerRuns tracks scheduler passes by outcome
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uptime_scheduler_runs_total",
			Help: "Total number of scheduler passes",
		},
		[]string{"result"},
	)

	// ProbesTotal tracks probe outcomes per region
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uptime_probes_total",
			Help: "Total number of probes performed",
		},
		[]string{"region", "status"},
	)

	// ProbeLatency tracks end-to-end probe duration including retries
	ProbeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uptime_probe_latency_seconds",
			Help:    "Probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"region"},
	)

	// ProbeAttempts tracks how many attempts a probe needed
	ProbeAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uptime_probe_attempts",
			Help:    "Number of HTTP attempts per probe",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"region"},
	)

	// TasksAcked tracks acknowledged deliveries per region
	TasksAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uptime_tasks_acked_total",
			Help: "Total number of deliveries acknowledged",
		},
		[]string{"region"},
	)

	// PersistErrors tracks tick writes that failed
	PersistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uptime_persist_errors_total",
			Help: "Total number of tick writes that failed",
		},
		[]string{"region", "reason"},
	)

	// QueueErrors tracks queue operations that failed
	QueueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uptime_queue_errors_total",
			Help: "Total number of failed queue operations",
		},
		[]string{"region", "op"},
	)

	// WorkerState exposes the current state per region (1 = active state)
	WorkerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "uptime_worker_state",
			Help: "Current worker state, 1 for the active state",
		},
		[]string{"region", "state"},
	)

	// WorkerRestarts tracks supervised worker restarts after a crash
	WorkerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uptime_worker_restarts_total",
			Help: "Total number of worker restarts",
		},
		[]string{"region"},
	)

	// TicksPruned tracks ticks removed by retention
	TicksPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uptime_ticks_pruned_total",
			Help: "Total number of ticks deleted by retention",
		},
	)

	// DBConnectionPoolUsage tracks open connections as a share of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uptime_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of max",
		},
	)
)
