// Package metrics provides Prometheus instrumentation for the matcher. It
// exposes counters for swipes, matches and similarity fallbacks, cache
// hit/miss counters and histograms for ranking latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SwipesTotal counts recorded swipes, labeled by verdict: "like" or "dislike".
	SwipesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_swipes_total",
		Help: "Total number of recorded swipes",
	}, []string{"verdict"})

	// RateLimited counts requests rejected by the rate limiter, labeled by
	// action: "swipe" or "recommend".
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_rate_limited_total",
		Help: "Requests rejected by the per-user rate limit",
	}, []string{"action"})

	// MatchesCreated counts match rows actually inserted.
	MatchesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matcher_matches_created_total",
		Help: "Number of new matches created",
	})

	// MatchConflicts counts duplicate match inserts that lost a race.
	MatchConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matcher_match_conflicts_total",
		Help: "Duplicate match inserts treated as already matched",
	})

	// RecommendCache counts cache lookups, labeled by result: "hit", "miss" or "error".
	RecommendCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_recommend_cache_total",
		Help: "Recommendation cache lookups",
	}, []string{"result"})

	// RankDuration records the time spent computing a full ranking.
	RankDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matcher_rank_duration_seconds",
		Help:    "Time to score and sort a candidate pool",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// RankCandidates records the candidate pool size per full ranking.
	RankCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matcher_rank_candidates",
		Help:    "Number of candidates scored per ranking",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// SimilarityFallbacks counts embedding failures answered by token similarity,
	// labeled by reason: "error", "breaker_open" or "dimension".
	SimilarityFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_similarity_fallbacks_total",
		Help: "Embedding similarity requests answered by the token fallback",
	}, []string{"reason"})

	// RequestsTotal counts protocol requests handled, labeled by type and outcome code.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_requests_total",
		Help: "Requests handled by the matcher service",
	}, []string{"type", "code"})
)

func init() {
	prometheus.MustRegister(
		SwipesTotal,
		RateLimited,
		MatchesCreated,
		MatchConflicts,
		RecommendCache,
		RankDuration,
		RankCandidates,
		SimilarityFallbacks,
		RequestsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
