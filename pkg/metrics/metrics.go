// Package metrics defines the Prometheus metric collectors used by the index
// reader and serves them for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the index reader.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	AccessorOpsTotal     *prometheus.CounterVec
	AccessorLatency      *prometheus.HistogramVec
	PostingsTraversed    prometheus.Counter
	TermStatsPathTotal   *prometheus.CounterVec
	DocidLookupsTotal    *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	SnapshotReloadsTotal *prometheus.CounterVec
	LiveDocuments        prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics and registers them with reg. Tests
// pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	m := &Metrics{
		gatherer: gatherer,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		AccessorOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_accessor_operations_total",
				Help: "Accessor operations by operation and outcome (ok or error kind).",
			},
			[]string{"op", "status"},
		),
		AccessorLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_accessor_latency_seconds",
				Help:    "Accessor operation latency in seconds.",
				Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"op"},
		),
		PostingsTraversed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_postings_traversed_total",
				Help: "Postings entries read from store enumerators.",
			},
		),
		TermStatsPathTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_term_stats_path_total",
				Help: "Term statistics lookups by path (precomputed, traversal, absent).",
			},
			[]string{"path"},
		),
		DocidLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_docid_lookups_total",
				Help: "External id lookups by method (seek, scan).",
			},
			[]string{"method"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		SnapshotReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_snapshot_reloads_total",
				Help: "Snapshot reloads by status.",
			},
			[]string{"status"},
		),
		LiveDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_live_documents",
				Help: "Live documents in the served snapshot.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.AccessorOpsTotal,
		m.AccessorLatency,
		m.PostingsTraversed,
		m.TermStatsPathTotal,
		m.DocidLookupsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SnapshotReloadsTotal,
		m.LiveDocuments,
	)

	return m
}

// Handler serves the collectors of the registry m was registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
