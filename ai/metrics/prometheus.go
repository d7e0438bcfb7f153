// Package metrics exports query, provider, cache and spend metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

const namespace = "bookbridge"

// PrometheusExporter implements the recorder interfaces of the llm, cache, usage and
// query packages on a single registry.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Query metrics
	queryLatency  *prometheus.HistogramVec
	queryRequests *prometheus.CounterVec

	// Provider metrics
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses prometheus.Counter

	// Spend metrics
	tokensUsed *prometheus.CounterVec
	costUSD    *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.queryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "latency_seconds",
			Help:      "End-to-end query latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode", "outcome"},
	)

	e.queryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of queries by outcome",
		},
		[]string{"mode", "outcome"},
	)

	e.providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of provider calls",
		},
		[]string{"provider", "tier", "outcome"},
	)

	e.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider", "tier"},
	)

	e.fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "fallbacks_total",
			Help:      "Total number of capacity fallbacks to the secondary provider",
		},
		[]string{"from", "to"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"tier"},
	)

	e.cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
	)

	e.tokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "tokens_total",
			Help:      "Total tokens billed",
		},
		[]string{"tier", "token_type"},
	)

	e.costUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "cost_usd_total",
			Help:      "Total spend in US dollars",
		},
		[]string{"tier"},
	)

	e.rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "rejections_total",
			Help:      "Total number of queries rejected by a spend ceiling",
		},
		[]string{"scope"},
	)

	registry.MustRegister(
		e.queryLatency,
		e.queryRequests,
		e.providerCalls,
		e.providerLatency,
		e.fallbacks,
		e.cacheHits,
		e.cacheMisses,
		e.tokensUsed,
		e.costUSD,
		e.rejections,
	)

	return e
}

// RecordQuery records a finished query.
func (e *PrometheusExporter) RecordQuery(mode, outcome string, d time.Duration) {
	e.queryRequests.WithLabelValues(mode, outcome).Inc()
	e.queryLatency.WithLabelValues(mode, outcome).Observe(d.Seconds())
}

// RecordProviderCall records one provider attempt.
func (e *PrometheusExporter) RecordProviderCall(provider string, tier llm.Tier, outcome string, d time.Duration) {
	e.providerCalls.WithLabelValues(provider, string(tier), outcome).Inc()
	e.providerLatency.WithLabelValues(provider, string(tier)).Observe(d.Seconds())
}

// RecordFallback records a switch from the primary to the secondary provider.
func (e *PrometheusExporter) RecordFallback(from, to string) {
	e.fallbacks.WithLabelValues(from, to).Inc()
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(tier string) {
	e.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss() {
	e.cacheMisses.Inc()
}

// RecordSpend records billed tokens and cost.
func (e *PrometheusExporter) RecordSpend(tier llm.Tier, usage llm.Usage, costUSD float64) {
	e.tokensUsed.WithLabelValues(string(tier), "prompt").Add(float64(usage.PromptTokens))
	e.tokensUsed.WithLabelValues(string(tier), "completion").Add(float64(usage.CompletionTokens))
	e.costUSD.WithLabelValues(string(tier)).Add(costUSD)
}

// RecordRejection records a query refused by a spend ceiling.
func (e *PrometheusExporter) RecordRejection(scope ai.LimitScope) {
	e.rejections.WithLabelValues(string(scope)).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
