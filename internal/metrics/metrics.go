// Package metrics records ingest run metrics and pushes them to a
// Prometheus Pushgateway. Runs are short-lived batch jobs, so there is no
// scrape endpoint.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// RunMetrics holds the counters of one process.
type RunMetrics struct {
	registry *prometheus.Registry

	duration        *prometheus.HistogramVec
	success         prometheus.Counter
	failure         *prometheus.CounterVec
	ticketsAdded    prometheus.Counter
	ticketsSkipped  prometheus.Counter
	couponsUpserted prometheus.Counter
}

// New registers the run metrics on a fresh registry.
func New() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kpi_run_duration_seconds",
			Help:    "Duration of each run stage in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		success: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpi_run_success_total",
			Help: "Runs that committed their input.",
		}),
		failure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpi_run_failure_total",
			Help: "Runs that failed, by failing stage.",
		}, []string{"stage"}),
		ticketsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpi_tickets_added_total",
			Help: "Tickets appended to the history.",
		}),
		ticketsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpi_tickets_skipped_total",
			Help: "Tickets already present in the history.",
		}),
		couponsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpi_coupons_upserted_total",
			Help: "Coupon records written.",
		}),
	}
	m.registry.MustRegister(m.duration, m.success, m.failure, m.ticketsAdded, m.ticketsSkipped, m.couponsUpserted)
	return m
}

// Registry exposes the underlying registry.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took.
func (m *RunMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(stage)).Observe(d.Seconds())
}

// IncSuccess counts a successful run.
func (m *RunMetrics) IncSuccess() {
	if m == nil {
		return
	}
	m.success.Inc()
}

// IncFailure counts a run that failed at stage.
func (m *RunMetrics) IncFailure(stage string) {
	if m == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(stage)).Inc()
}

// AddMerge records the outcome of a store commit.
func (m *RunMetrics) AddMerge(added, skipped, couponsUpserted int) {
	if m == nil {
		return
	}
	m.ticketsAdded.Add(float64(added))
	m.ticketsSkipped.Add(float64(skipped))
	m.couponsUpserted.Add(float64(couponsUpserted))
}

// Push sends every metric to the gateway under job, replacing the previous
// push of that job. An empty url is a no-op.
func (m *RunMetrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}

func normalizeLabel(stage string) string {
	if stage == "" {
		return "unknown"
	}
	return stage
}
