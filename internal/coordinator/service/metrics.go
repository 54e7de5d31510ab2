package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
)

// Metrics holds the Prometheus collectors of one batch run. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	attemptsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	jobsTotal       *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	batchDuration   prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casbatch_attempts_total",
				Help: "Number of job attempts by reported status",
			},
			[]string{"status"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casbatch_retries_total",
				Help: "Number of retries by kind",
			},
			[]string{"kind"},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casbatch_jobs_total",
				Help: "Number of jobs by terminal outcome",
			},
			[]string{"outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "casbatch_attempt_duration_seconds",
				Help:    "Wall time of a single job attempt",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"status"},
		),
		batchDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "casbatch_batch_duration_seconds",
				Help: "Wall time of the last batch",
			},
		),
	}

	m.registry.MustRegister(
		m.attemptsTotal,
		m.retriesTotal,
		m.jobsTotal,
		m.attemptDuration,
		m.batchDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAttempt(status core.AttemptStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(string(status)).Inc()
	m.attemptDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

func (m *Metrics) ObserveRetry(kind string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveOutcome(outcome core.Outcome) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) ObserveBatch(batch *core.Batch) {
	if m == nil {
		return
	}
	m.batchDuration.Set(batch.Duration().Seconds())
}

// Push sends every collector to a Prometheus Pushgateway, grouped by batch.
func (m *Metrics) Push(ctx context.Context, url, jobName string, batchID string) error {
	if m == nil || url == "" {
		return nil
	}
	return push.New(url, jobName).
		Gatherer(m.registry).
		Grouping("batch_id", batchID).
		PushContext(ctx)
}
