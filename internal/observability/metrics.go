package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/linktrunc/internal/truncate"
)

const metricsNamespace = "linktrunc"

// Metrics holds per-run counters and gauges in a private registry. A
// one-shot CLI run has no scrape endpoint, so the registry is written out
// in the node_exporter textfile format instead.
type Metrics struct {
	registry       *prometheus.Registry
	runs           *prometheus.CounterVec
	truncateBefore *prometheus.GaugeVec
	pages          *prometheus.CounterVec
	events         *prometheus.CounterVec
	lastRun        *prometheus.GaugeVec
}

// NewMetrics registers the linktrunc collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Safe point runs by stream and outcome.",
		}, []string{"stream", "outcome"}),
		truncateBefore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "truncate_before",
			Help:      "Last committed truncate-before value per stream.",
		}, []string{"stream"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scan_pages_total",
			Help:      "Pages read while scanning for dead links.",
		}, []string{"stream"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scan_events_total",
			Help:      "Link events examined while scanning for dead links.",
		}, []string{"stream"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last run per stream.",
		}, []string{"stream"}),
	}
	m.registry.MustRegister(m.runs, m.truncateBefore, m.pages, m.events, m.lastRun)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records one finished run.
func (m *Metrics) Observe(res *truncate.Result, at time.Time) {
	if res == nil {
		return
	}
	m.runs.WithLabelValues(res.Stream, string(res.Outcome)).Inc()
	m.pages.WithLabelValues(res.Stream).Add(float64(res.PagesRead))
	m.events.WithLabelValues(res.Stream).Add(float64(res.EventsExamined))
	m.lastRun.WithLabelValues(res.Stream).Set(float64(at.Unix()))
	if res.Committed && res.TruncateBefore != nil {
		m.truncateBefore.WithLabelValues(res.Stream).Set(float64(*res.TruncateBefore))
	}
}

// WriteTextfile atomically writes all metrics to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
