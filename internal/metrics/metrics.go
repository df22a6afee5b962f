package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for registry scans and the remote reads
// they depend on. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RPC calls by method and outcome
	RPCCalls *prometheus.CounterVec

	// RPC latency by method
	RPCLatency *prometheus.HistogramVec

	// Metadata fetch outcomes by source
	MetadataFetches *prometheus.CounterVec

	// Scan runs by type
	ScansTotal *prometheus.CounterVec

	// Entities counted by scans, by type and result
	ScanEntities *prometheus.CounterVec

	// Scan duration by type
	ScanDuration *prometheus.HistogramVec

	// Similarity matches above threshold
	SimilarityMatches prometheus.Counter

	// Rows in the agent cache, sampled after each scan
	CachedAgents prometheus.Gauge

	// Circuit breaker state, 1 for the current state of each breaker
	BreakerState *prometheus.GaugeVec
}

var breakerStates = []string{"closed", "half-open", "open"}

// New creates a Metrics instance registered against reg. Passing nil uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RPCCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentindex_rpc_calls_total",
			Help: "Total JSON-RPC calls by method and outcome",
		}, []string{"method", "outcome"}), // outcome: "ok", "rpc_error", "transport_error", "circuit_open"

		RPCLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentindex_rpc_duration_seconds",
			Help:    "Duration of JSON-RPC calls by method",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		MetadataFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentindex_metadata_fetches_total",
			Help: "Metadata document fetches by source and outcome",
		}, []string{"source", "outcome"}), // source: "http", "data", "cache"

		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentindex_scans_total",
			Help: "Completed scans by type",
		}, []string{"type"}),

		ScanEntities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentindex_scan_entities_total",
			Help: "Entities processed by scans, by scan type and result",
		}, []string{"type", "result"}), // result: "found", "new", "updated", "error"

		ScanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentindex_scan_duration_seconds",
			Help:    "Duration of scans by type",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"type"}),

		SimilarityMatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentindex_similarity_matches_total",
			Help: "Similarity matches at or above the minimum score",
		}),

		CachedAgents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentindex_cached_agents",
			Help: "Number of agents in the local cache",
		}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentindex_breaker_state",
			Help: "Circuit breaker state by breaker name",
		}, []string{"name", "state"}),
	}
}

// ObserveRPC records one JSON-RPC call.
func (m *Metrics) ObserveRPC(method, outcome string, d time.Duration) {
	if m != nil {
		m.RPCCalls.WithLabelValues(method, outcome).Inc()
		m.RPCLatency.WithLabelValues(method).Observe(d.Seconds())
	}
}

// IncrementMetadataFetch records a metadata fetch outcome.
func (m *Metrics) IncrementMetadataFetch(source, outcome string) {
	if m != nil {
		m.MetadataFetches.WithLabelValues(source, outcome).Inc()
	}
}

// ObserveScan records a completed scan and its entity counts.
func (m *Metrics) ObserveScan(scanType string, found, created, updated, errs int, d time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(scanType).Inc()
	m.ScanEntities.WithLabelValues(scanType, "found").Add(float64(found))
	m.ScanEntities.WithLabelValues(scanType, "new").Add(float64(created))
	m.ScanEntities.WithLabelValues(scanType, "updated").Add(float64(updated))
	m.ScanEntities.WithLabelValues(scanType, "error").Add(float64(errs))
	m.ScanDuration.WithLabelValues(scanType).Observe(d.Seconds())
}

// AddSimilarityMatches records n similarity matches.
func (m *Metrics) AddSimilarityMatches(n int) {
	if m != nil {
		m.SimilarityMatches.Add(float64(n))
	}
}

// SetCachedAgents records the current cache size.
func (m *Metrics) SetCachedAgents(n int) {
	if m != nil {
		m.CachedAgents.Set(float64(n))
	}
}

// SetBreakerState marks state as the current state of the named breaker.
func (m *Metrics) SetBreakerState(name, state string) {
	if m == nil {
		return
	}
	for _, st := range breakerStates {
		v := 0.0
		if st == state {
			v = 1
		}
		m.BreakerState.WithLabelValues(name, st).Set(v)
	}
}
