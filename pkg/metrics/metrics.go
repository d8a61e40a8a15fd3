// Package metrics holds the Prometheus collectors of the recommendation
// service. Collectors register with the default registry on import.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request path
	RecommendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgraph_recommend_requests_total",
			Help: "Recommendation requests by outcome",
		},
		[]string{"outcome"}, // "ok", "cached", "unavailable", "invalid", "canceled", "error"
	)

	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgraph_recommend_duration_seconds",
			Help:    "End to end recommendation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	StrategyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgraph_strategy_outcomes_total",
			Help: "Scoring strategy results by status",
		},
		[]string{"strategy", "status"}, // status: "ok", "no_signal", "unavailable"
	)

	StrategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgraph_strategy_duration_seconds",
			Help:    "Latency of a single scoring strategy",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"strategy"},
	)

	// Cache
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgraph_cache_lookups_total",
			Help: "Result cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "stale", "expired", "error"
	)

	// Classification index
	ClassificationReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgraph_classification_reloads_total",
			Help: "Classification index reloads by result",
		},
		[]string{"result"},
	)

	ClassificationEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolgraph_classification_entries",
			Help: "Keywords in the active classification snapshot",
		},
	)

	CatalogGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolgraph_catalog_generation",
			Help: "Highest catalog generation observed by this process",
		},
	)

	// Semantic backend circuit breaker: 0 closed, 1 half-open, 2 open
	SemanticBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolgraph_semantic_breaker_state",
			Help: "State of the semantic backend circuit breaker",
		},
	)

	CatalogEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgraph_catalog_events_total",
			Help: "Catalog events published or consumed",
		},
		[]string{"direction", "type"},
	)
)

// ObserveStrategy records one strategy run.
func ObserveStrategy(strategy, status string, d time.Duration) {
	StrategyOutcomes.WithLabelValues(strategy, status).Inc()
	StrategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveRecommend records one recommend call.
func ObserveRecommend(outcome string, d time.Duration) {
	RecommendRequests.WithLabelValues(outcome).Inc()
	RecommendDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
