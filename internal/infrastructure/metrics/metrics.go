// Package metrics holds the Prometheus instrumentation for the decision
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for the decision core.
type Registry struct {
	// Pipeline outcomes
	DecisionsTotal *prometheus.CounterVec
	BlocksTotal    *prometheus.CounterVec
	ScoreHistogram prometheus.Histogram
	EvalDuration   prometheus.Histogram

	// External collaborators
	CollabErrors  *prometheus.CounterVec
	CollabLatency *prometheus.HistogramVec

	// Dedup cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Source lifecycle
	SourcesByStatus *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewRegistry creates the metrics registry with every pipeline metric
// registered.
func NewRegistry() *Registry {
	m := &Registry{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsearb_decisions_total",
				Help: "Decisions emitted by action",
			},
			[]string{"action"},
		),
		BlocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsearb_blocks_total",
				Help: "Positions blocked by constraint name",
			},
			[]string{"constraint"},
		),
		ScoreHistogram: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulsearb_final_score",
				Help:    "Distribution of composite final scores",
				Buckets: []float64{10, 20, 30, 35, 40, 50, 60, 65, 70, 80, 90, 100},
			},
		),
		EvalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulsearb_evaluation_duration_seconds",
				Help:    "End-to-end signal evaluation duration",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		CollabErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsearb_collaborator_errors_total",
				Help: "External collaborator failures by collaborator",
			},
			[]string{"collaborator"},
		),
		CollabLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsearb_collaborator_latency_seconds",
				Help:    "External collaborator call latency by collaborator",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"collaborator"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsearb_dedup_cache_hits_total",
				Help: "Signals dropped by the dedup window",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsearb_dedup_cache_misses_total",
				Help: "Signals passing the dedup window",
			},
		),
		SourcesByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsearb_sources_by_status",
				Help: "Source records per lifecycle status",
			},
			[]string{"status"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.DecisionsTotal,
		m.BlocksTotal,
		m.ScoreHistogram,
		m.EvalDuration,
		m.CollabErrors,
		m.CollabLatency,
		m.CacheHits,
		m.CacheMisses,
		m.SourcesByStatus,
	)
	return m
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (m *Registry) Prometheus() *prometheus.Registry { return m.registry }
