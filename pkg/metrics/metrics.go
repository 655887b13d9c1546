package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics (C2 Admission Queue)
	QueuePendingTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderead_queue_pending_total",
			Help: "Number of tasks currently pending admission",
		},
	)

	QueueRunningTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderead_queue_running_total",
			Help: "Number of tasks currently running",
		},
	)

	TasksAdmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coderead_tasks_admitted_total",
			Help: "Total number of tasks admitted into running",
		},
	)

	// Pipeline metrics (C3 Pipeline Driver)
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderead_stage_duration_seconds",
			Help:    "Time taken to complete a pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderead_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal status",
		},
		[]string{"status"},
	)

	// Worker pool metrics (C4)
	FileAnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coderead_file_analysis_duration_seconds",
			Help:    "Time taken to analyze a single file",
			Buckets: prometheus.DefBuckets,
		},
	)

	FilesAnalyzed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderead_files_analyzed_total",
			Help: "Total number of files analyzed, by terminal status",
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coderead_retries_total",
			Help: "Total number of file-analysis retry attempts",
		},
	)

	RateLimiterWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coderead_rate_limiter_wait_seconds",
			Help:    "Time a worker spent waiting on the LLM rate limiter",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Adapter metrics (C5)
	AdapterCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderead_adapter_calls_total",
			Help: "Total number of external adapter calls, by adapter and error kind",
		},
		[]string{"adapter", "kind"},
	)

	// Health/introspection metrics (C7)
	WorkerHeartbeatAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coderead_worker_heartbeat_age_seconds",
			Help: "Seconds since a worker's last heartbeat",
		},
		[]string{"worker_id"},
	)

	OrphanTasksRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coderead_orphan_tasks_recovered_total",
			Help: "Total number of tasks recovered from an orphaned running state",
		},
	)
)

func init() {
	prometheus.MustRegister(
		QueuePendingTotal,
		QueueRunningTotal,
		TasksAdmittedTotal,
		StageDuration,
		TasksCompletedTotal,
		FileAnalysisDuration,
		FilesAnalyzed,
		RetriesTotal,
		RateLimiterWaitDuration,
		AdapterCallsTotal,
		WorkerHeartbeatAge,
		OrphanTasksRecoveredTotal,
	)
}

// Handler returns the Prometheus HTTP handler for C7's metrics surface.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
