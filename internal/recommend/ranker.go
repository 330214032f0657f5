// Package recommend ranks candidate profiles for a requesting user by
// compatibility score and caches the ranking for a fixed TTL.
package recommend

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/titi/matcher/internal/metrics"
	"github.com/titi/matcher/internal/profile"
	"github.com/titi/matcher/internal/scoring"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTopN = 50
	DefaultTTL  = 10 * time.Minute

	// ctxCheckEvery bounds how many candidates are scored between
	// cancellation checks.
	ctxCheckEvery = 64
)

// Recommendation is one ranked candidate.
type Recommendation struct {
	CandidateID int64                       `json:"candidate_id"`
	Score       float64                     `json:"score"`
	PerFeature  map[scoring.Feature]float64 `json:"per_feature"`
	Shared      scoring.Shared              `json:"shared"`
}

// Options adjust a single Rank call.
type Options struct {
	// TopN limits the result; zero uses the ranker default.
	TopN int
	// ForceRefresh skips the cache lookup and recomputes.
	ForceRefresh bool
	// MinScore drops candidates scoring below it; zero uses the ranker default.
	MinScore float64
}

// Config configures a Ranker.
type Config struct {
	TopN int
	TTL  time.Duration
	// MinScore is the default compatibility threshold.
	MinScore float64
	// Now overrides the clock used for cache expiry.
	Now func() time.Time
}

// Ranker produces cached, deterministic rankings.
type Ranker struct {
	profiles profile.Store
	scorer   *scoring.Scorer
	cache    Cache
	topN     int
	minScore float64
	ttl      time.Duration
	now      func() time.Time
	group    singleflight.Group
	log      zerolog.Logger
}

// NewRanker wires a ranker over profiles and scorer. cache may be nil to
// disable caching.
func NewRanker(profiles profile.Store, scorer *scoring.Scorer, cache Cache, cfg Config, log zerolog.Logger) *Ranker {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ranker{
		profiles: profiles,
		scorer:   scorer,
		cache:    cache,
		topN:     cfg.TopN,
		minScore: cfg.MinScore,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		log:      log.With().Str("component", "ranker").Logger(),
	}
}

// Rank returns up to TopN candidates for userID scoring at least MinScore,
// best first. A live cached ranking is reused unless ForceRefresh is set.
// Concurrent misses for the same user share one computation.
func (r *Ranker) Rank(ctx context.Context, userID int64, opts Options) ([]Recommendation, error) {
	n := opts.TopN
	if n <= 0 {
		n = r.topN
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = r.minScore
	}

	if !opts.ForceRefresh {
		if items, ok := r.lookup(ctx, userID, n); ok {
			return AtLeast(items, minScore), nil
		}
	}

	key := strconv.FormatInt(userID, 10) + ":" + strconv.Itoa(n)
	ch := r.group.DoChan(key, func() (any, error) {
		// Detached so one abandoned caller does not fail the others; the
		// finished ranking still lands in the cache.
		return r.refresh(context.WithoutCancel(ctx), userID, n)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return AtLeast(res.Val.([]Recommendation), minScore), nil
	}
}

// AtLeast returns the leading items of a ranking scoring at least threshold.
// Rankings are sorted by score, so thresholding after truncation keeps
// exactly the candidates thresholding first would.
func AtLeast(items []Recommendation, threshold float64) []Recommendation {
	if threshold <= 0 {
		return items
	}
	n := sort.Search(len(items), func(i int) bool { return items[i].Score < threshold })
	return items[:n]
}

func (r *Ranker) lookup(ctx context.Context, userID int64, n int) ([]Recommendation, bool) {
	if r.cache == nil {
		return nil, false
	}
	entry, err := r.cache.Get(ctx, userID)
	if err != nil {
		metrics.RecommendCache.WithLabelValues("error").Inc()
		r.log.Warn().Err(err).Int64("user_id", userID).Msg("cache lookup failed, recomputing")
		return nil, false
	}
	if entry == nil || !entry.Serves(n) {
		metrics.RecommendCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.RecommendCache.WithLabelValues("hit").Inc()
	return append([]Recommendation(nil), truncate(entry.Items, n)...), true
}

func (r *Ranker) refresh(ctx context.Context, userID int64, n int) ([]Recommendation, error) {
	requester, err := r.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recommend: load requester %d: %w", userID, err)
	}
	if requester == nil {
		requester = profile.Empty(userID)
	}

	pool, err := r.profiles.ScanProfiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recommend: scan candidates: %w", err)
	}

	start := time.Now()
	items, err := RankPool(ctx, r.scorer, requester, pool, n)
	if err != nil {
		return nil, err
	}
	metrics.RankDuration.Observe(time.Since(start).Seconds())
	metrics.RankCandidates.Observe(float64(len(pool)))

	if r.cache != nil {
		entry := &CacheEntry{Items: items, Limit: n, ExpiresAt: r.now().Add(r.ttl)}
		if err := r.cache.Set(ctx, userID, entry); err != nil {
			r.log.Warn().Err(err).Int64("user_id", userID).Msg("cache store failed")
		}
	}

	r.log.Debug().Int64("user_id", userID).Int("candidates", len(pool)).Int("returned", len(items)).
		Dur("took", time.Since(start)).Msg("ranking computed")
	return items, nil
}

// RankPool scores every candidate in pool against requester and returns the
// best n, ordered by score descending and candidate id ascending. The
// requester is excluded from the pool.
func RankPool(ctx context.Context, scorer *scoring.Scorer, requester *profile.Profile, pool []*profile.Profile, n int) ([]Recommendation, error) {
	out := make([]Recommendation, 0, len(pool))
	for i, c := range pool {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if c == nil || c.UserID == requester.UserID {
			continue
		}
		res := scorer.Score(ctx, requester, c)
		out = append(out, Recommendation{
			CandidateID: c.UserID,
			Score:       res.Total,
			PerFeature:  res.PerFeature,
			Shared:      scoring.SharedAttributes(requester, c),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	return truncate(out, n), nil
}

func truncate(items []Recommendation, n int) []Recommendation {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
