// Package metrics provides the Prometheus collectors for streamhub components.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job status label values
const (
	JobStatusExecuted = "executed"
	JobStatusDropped  = "dropped"
	JobStatusDelayed  = "delayed"
	JobStatusPanicked = "panicked"
	JobStatusExpired  = "discarded"
)

// WorkerMetrics contains Prometheus metrics for the worker pool.
// All methods are safe to call on a nil receiver.
type WorkerMetrics struct {
	jobsTotal      *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	workersRunning prometheus.Gauge
	registry       *prometheus.Registry
}

// NewWorkerMetrics creates and registers the worker pool metrics.
func NewWorkerMetrics(registry *prometheus.Registry) (*WorkerMetrics, error) {
	m := &WorkerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register worker metrics: %w", err)
	}
	return m, nil
}

func (m *WorkerMetrics) initMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_worker_jobs_total",
			Help: "Worker pool jobs by outcome",
		},
		[]string{"status"}, // executed, dropped, delayed, panicked, discarded
	)

	m.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamhub_worker_job_duration_seconds",
		Help:    "Time spent running one worker job",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
	})

	m.workersRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamhub_worker_threads_running",
		Help: "Number of worker goroutines currently running",
	})
}

// RecordJob counts a job outcome.
func (m *WorkerMetrics) RecordJob(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

// ObserveJobDuration records how long a job ran.
func (m *WorkerMetrics) ObserveJobDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.Observe(d.Seconds())
}

// WorkerStarted and WorkerStopped track running workers.
func (m *WorkerMetrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workersRunning.Inc()
}

func (m *WorkerMetrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.workersRunning.Dec()
}

// Describe implements the Collector interface
func (m *WorkerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.jobsTotal.Describe(ch)
	m.jobDuration.Describe(ch)
	m.workersRunning.Describe(ch)
}

// Collect implements the Collector interface
func (m *WorkerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.jobsTotal.Collect(ch)
	m.jobDuration.Collect(ch)
	m.workersRunning.Collect(ch)
}
