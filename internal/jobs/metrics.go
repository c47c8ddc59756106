// Package jobmetrics instruments background jobs run by the worker.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes reported in the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Metrics holds the job collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	mismatches  prometheus.Gauge
	now         func() time.Time
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer. A nil registerer shares
// one instance on the default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	defaultOnce.Do(func() {
		defaultMetrics = register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reembolso_jobs_total",
			Help: "Job runs by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reembolso_jobs_failures_total",
			Help: "Job runs that returned an error, including non-retryable ones.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reembolso_job_duration_seconds",
			Help:    "Job run duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reembolso_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		mismatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reembolso_identity_mismatches",
			Help: "Colaboradores whose account name differs from the HR record, as of the last refresh.",
		}),
		now: time.Now,
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.mismatches)
	return m
}

// Tracker measures one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts measuring a run of job.
func (m *Metrics) Track(job string) *Tracker {
	t := &Tracker{metrics: m, job: job, start: time.Now()}
	if m != nil {
		t.start = m.now()
	}
	return t
}

// End records the run outcome and returns err unchanged. Errors wrapping
// asynq.SkipRetry count as skipped as well as failed.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	m := t.metrics
	now := m.now()
	status := StatusSuccess
	switch {
	case errors.Is(err, asynq.SkipRetry):
		status = StatusSkipped
		m.failures.WithLabelValues(t.job).Inc()
	case err != nil:
		status = StatusFailure
		m.failures.WithLabelValues(t.job).Inc()
	default:
		m.lastSuccess.WithLabelValues(t.job).Set(float64(now.Unix()))
	}
	m.runs.WithLabelValues(t.job, status).Inc()
	m.duration.WithLabelValues(t.job).Observe(now.Sub(t.start).Seconds())
	return err
}

// SetMismatches publishes the size of the latest mismatch list.
func (m *Metrics) SetMismatches(count int) {
	if m == nil {
		return
	}
	m.mismatches.Set(float64(count))
}
