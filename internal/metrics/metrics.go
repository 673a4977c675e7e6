package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Coordinator Metrics
// =============================================================================

var (
	// ReduceDuration measures the latency of one merge call
	ReduceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tophits_reduce_duration_seconds",
			Help:    "Time spent merging shard partial results",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		},
	)

	// ReduceErrorsTotal counts rejected merges by error kind
	ReduceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tophits_reduce_errors_total",
			Help: "Total number of failed merges",
		},
		[]string{"kind"}, // "validation", "correlation"
	)

	// ShardRequestsTotal counts scatter requests per shard and outcome
	ShardRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tophits_shard_requests_total",
			Help: "Total number of shard search requests",
		},
		[]string{"shard", "outcome"}, // "ok", "error", "timeout", "decode"
	)

	// ShardLatency measures shard round trips as seen by the coordinator
	ShardLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tophits_shard_latency_seconds",
			Help:    "Shard search round trip latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"shard"},
	)

	// CacheLookupsTotal counts merged-result cache lookups
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tophits_cache_lookups_total",
			Help: "Total number of merged result cache lookups",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)
)

// =============================================================================
// Shard Node Metrics
// =============================================================================

var (
	// ShardSearchDuration measures local top-K execution on a shard node
	ShardSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tophits_shard_search_duration_seconds",
			Help:    "Time spent executing a shard-local search",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"shard_id"},
	)

	// ShardHitsReturned tracks how many entries a shard returns per request
	ShardHitsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tophits_shard_hits_returned",
			Help:    "Number of ranked entries returned per shard search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
