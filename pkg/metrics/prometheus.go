package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics. A nil *PrometheusMetrics
// records nothing.
type PrometheusMetrics struct {
	// Evaluation metrics
	EvaluationsTotal *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Circuit breaker metrics
	CircuitTransitionsTotal *prometheus.CounterVec

	// Run metrics
	FeasibleTotal prometheus.Counter
	BestObjective prometheus.Gauge
	FrontierSize  prometheus.Gauge
}

// NewPrometheusMetrics registers the collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		EvaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feasopt_evaluations_total",
				Help: "Total number of evaluator calls by phase and verdict",
			},
			[]string{"phase", "verdict"},
		),

		LatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feasopt_evaluation_latency_seconds",
				Help:    "Evaluator call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),

		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feasopt_cache_hits_total",
				Help: "Total number of evaluation cache hits",
			},
		),

		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feasopt_cache_misses_total",
				Help: "Total number of evaluation cache misses",
			},
		),

		CircuitTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feasopt_circuit_transitions_total",
				Help: "Total number of evaluator circuit breaker state changes",
			},
			[]string{"to"},
		),

		FeasibleTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feasopt_feasible_total",
				Help: "Total number of feasible candidates",
			},
		),

		BestObjective: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feasopt_best_objective",
				Help: "Objective value of the current best candidate",
			},
		),

		FrontierSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feasopt_frontier_points",
				Help: "Number of frontier points found by boundary tracing",
			},
		),
	}
}

// RecordEvaluation records one evaluator call
func (m *PrometheusMetrics) RecordEvaluation(phase, verdict string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(phase, verdict).Inc()
	m.LatencyHistogram.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit
func (m *PrometheusMetrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func (m *PrometheusMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordCircuitTransition records a circuit breaker state change
func (m *PrometheusMetrics) RecordCircuitTransition(to string) {
	if m == nil {
		return
	}
	m.CircuitTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordFeasible counts a feasible candidate
func (m *PrometheusMetrics) RecordFeasible() {
	if m == nil {
		return
	}
	m.FeasibleTotal.Inc()
}

// SetBestObjective publishes the objective of the current best
func (m *PrometheusMetrics) SetBestObjective(v float64) {
	if m == nil {
		return
	}
	m.BestObjective.Set(v)
}

// SetFrontierSize publishes the frontier size
func (m *PrometheusMetrics) SetFrontierSize(n int) {
	if m == nil {
		return
	}
	m.FrontierSize.Set(float64(n))
}
