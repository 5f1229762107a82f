// Package observability holds the process-wide prometheus instruments.
// Every long-running verb registers one Metrics value and serves it on
// the /metrics scrape endpoint.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric name.
const namespace = "feedbot"

// Metrics is the instrument set shared across the bot's subsystems.
type Metrics struct {
	registry *prometheus.Registry

	// PRsOpened counts pull requests opened, per migrator.
	PRsOpened *prometheus.CounterVec

	// MigrationsFailed counts migrate-step failures, per migrator.
	MigrationsFailed *prometheus.CounterVec

	// ProbeOutcomes counts probe results, per outcome kind.
	ProbeOutcomes *prometheus.CounterVec

	// StoreReads/StoreWrites count backend operations, per backend.
	StoreReads  *prometheus.CounterVec
	StoreWrites *prometheus.CounterVec

	// CacheHits/CacheStale count file-cache lookups.
	CacheHits  prometheus.Counter
	CacheStale prometheus.Counter

	// RateRemaining mirrors the forge's reported API budget.
	RateRemaining prometheus.Gauge

	// NodeDuration observes per-node scheduler latency, per migrator.
	NodeDuration *prometheus.HistogramVec
}

// nodeDurationBuckets covers fast filter-skips through full
// clone+rerender+PR rounds.
var nodeDurationBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

// NewMetrics builds and registers the instrument set on a fresh
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		PRsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prs_opened_total",
			Help:      "Pull requests opened, per migrator.",
		}, []string{"migrator"}),
		MigrationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_failed_total",
			Help:      "Migration attempts that recorded a failure, per migrator.",
		}, []string{"migrator"}),
		ProbeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_outcomes_total",
			Help:      "Upstream probe results, per outcome.",
		}, []string{"outcome"}),
		StoreReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_reads_total",
			Help:      "Record reads served, per backend.",
		}, []string{"backend"}),
		StoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Record writes performed, per backend.",
		}, []string{"backend"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "File cache hits.",
		}),
		CacheStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stale_total",
			Help:      "File cache entries invalidated by token mismatch.",
		}),
		RateRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forge_rate_remaining",
			Help:      "Remaining forge API budget as last reported.",
		}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Wall-clock spent per scheduled node, per migrator.",
			Buckets:   nodeDurationBuckets,
		}, []string{"migrator"}),
	}

	registry.MustRegister(
		m.PRsOpened, m.MigrationsFailed, m.ProbeOutcomes,
		m.StoreReads, m.StoreWrites,
		m.CacheHits, m.CacheStale,
		m.RateRemaining, m.NodeDuration,
	)

	return m
}

// Handler serves the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the raw registry for tests.
func (m *Metrics) Gather() prometheus.Gatherer { return m.registry }
