package recommend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/titi/matcher/internal/logging"
	"github.com/titi/matcher/internal/profile"
	"github.com/titi/matcher/internal/scoring"
	"github.com/titi/matcher/internal/similarity"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingStore counts full scans so tests can tell cache hits from rescoring.
type countingStore struct {
	profile.Store
	scans atomic.Int32
	gate  chan struct{}
}

func (s *countingStore) ScanProfiles(ctx context.Context, exclude int64) ([]*profile.Profile, error) {
	s.scans.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.Store.ScanProfiles(ctx, exclude)
}

func seed(t *testing.T, profiles ...*profile.Profile) *countingStore {
	t.Helper()
	mem := profile.NewMemoryStore()
	for _, p := range profiles {
		require.NoError(t, mem.UpsertProfile(context.Background(), p))
	}
	return &countingStore{Store: mem}
}

func newRanker(t *testing.T, store profile.Store, cache Cache, clock *fakeClock) *Ranker {
	t.Helper()
	scorer, err := scoring.New(similarity.NewTokenSet(), nil)
	require.NoError(t, err)
	return NewRanker(store, scorer, cache, Config{TopN: 50, TTL: 10 * time.Minute, Now: clock.Now}, logging.Nop())
}

func ids(items []Recommendation) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.CandidateID)
	}
	return out
}

func TestRank_InterestsScenario(t *testing.T) {
	store := seed(t,
		&profile.Profile{UserID: 1, Interests: []string{"python", "ml"}},
		&profile.Profile{UserID: 2, Interests: []string{"ml", "sql"}},
	)
	r := newRanker(t, store, nil, newFakeClock())

	got, err := r.Rank(context.Background(), 1, Options{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].CandidateID)
	assert.InDelta(t, 0.25/3.0, got[0].Score, 1e-12)
	assert.Equal(t, []string{"ml"}, got[0].Shared.Interests)
}

func TestRank_OrdersByScoreThenID(t *testing.T) {
	store := seed(t,
		&profile.Profile{UserID: 1, Interests: []string{"go", "chess"}},
		&profile.Profile{UserID: 5, Interests: []string{"go"}},
		&profile.Profile{UserID: 3, Interests: []string{"go"}},
		&profile.Profile{UserID: 4, Interests: []string{"go", "chess"}},
		&profile.Profile{UserID: 2, Interests: []string{"art"}},
	)
	r := newRanker(t, store, nil, newFakeClock())

	first, err := r.Rank(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3, 5, 2}, ids(first))

	second, err := r.Rank(context.Background(), 1, Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(second))
}

type leakyStore struct{ profile.Store }

func (s leakyStore) ScanProfiles(ctx context.Context, _ int64) ([]*profile.Profile, error) {
	return s.Store.ScanProfiles(ctx, 0)
}

func TestRank_ExcludesRequesterEvenIfScanned(t *testing.T) {
	mem := profile.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.UpsertProfile(ctx, &profile.Profile{UserID: 1, Interests: []string{"go"}}))
	require.NoError(t, mem.UpsertProfile(ctx, &profile.Profile{UserID: 2, Interests: []string{"go"}}))

	r := newRanker(t, leakyStore{mem}, nil, newFakeClock())
	got, err := r.Rank(ctx, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(got))
}

func TestRank_EmptyPool(t *testing.T) {
	r := newRanker(t, seed(t, profile.Empty(1)), nil, newFakeClock())
	got, err := r.Rank(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestRank_MissingRequesterScoresZero(t *testing.T) {
	store := seed(t,
		&profile.Profile{UserID: 2, Interests: []string{"go"}},
		&profile.Profile{UserID: 3, City: "Oslo"},
	)
	r := newRanker(t, store, nil, newFakeClock())

	got, err := r.Rank(context.Background(), 99, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(got))
	for _, it := range got {
		assert.Zero(t, it.Score)
	}

	p, err := store.GetProfile(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, p, "ranking must not create the requester profile")
}

func TestRank_TopN(t *testing.T) {
	store := seed(t, profile.Empty(1), profile.Empty(2), profile.Empty(3), profile.Empty(4))
	r := newRanker(t, store, NewMemoryCache(nil), newFakeClock())

	got, err := r.Rank(context.Background(), 1, Options{TopN: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(got))
}

func TestRank_MinScoreThreshold(t *testing.T) {
	store := seed(t,
		&profile.Profile{UserID: 1, Interests: []string{"chess", "go"}},
		&profile.Profile{UserID: 2, Interests: []string{"chess", "go"}},
		&profile.Profile{UserID: 3, Interests: []string{"go", "hiking"}},
		&profile.Profile{UserID: 4, Interests: []string{"painting"}},
	)
	r := newRanker(t, store, NewMemoryCache(nil), newFakeClock())
	ctx := context.Background()

	got, err := r.Rank(ctx, 1, Options{MinScore: 0.2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(got))

	got, err = r.Rank(ctx, 1, Options{MinScore: 0.05})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(got), "served from cache with a lower threshold")
	assert.Equal(t, int32(1), store.scans.Load())

	got, err = r.Rank(ctx, 1, Options{TopN: 1, MinScore: 0.05})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(got))
}

func TestRank_DefaultMinScoreFromConfig(t *testing.T) {
	store := seed(t,
		&profile.Profile{UserID: 1, Interests: []string{"go"}},
		&profile.Profile{UserID: 2, Interests: []string{"go"}},
		&profile.Profile{UserID: 3, Interests: []string{"art"}},
	)
	scorer, err := scoring.New(similarity.NewTokenSet(), nil)
	require.NoError(t, err)
	r := NewRanker(store, scorer, nil, Config{MinScore: 0.1}, logging.Nop())

	got, err := r.Rank(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(got))
}

func TestAtLeast(t *testing.T) {
	items := []Recommendation{{CandidateID: 1, Score: 0.9}, {CandidateID: 2, Score: 0.7}, {CandidateID: 3, Score: 0.1}}
	assert.Len(t, AtLeast(items, 0), 3)
	assert.Equal(t, []int64{1, 2}, ids(AtLeast(items, 0.7)))
	assert.Empty(t, AtLeast(items, 0.95))
}

func TestRank_CacheHitThenExpiry(t *testing.T) {
	clock := newFakeClock()
	store := seed(t,
		&profile.Profile{UserID: 1, Interests: []string{"go"}},
		&profile.Profile{UserID: 2, Interests: []string{"go"}},
	)
	r := newRanker(t, store, NewMemoryCache(clock.Now), clock)
	ctx := context.Background()

	first, err := r.Rank(ctx, 1, Options{})
	require.NoError(t, err)
	require.Equal(t, int32(1), store.scans.Load())

	// A profile edit inside the TTL is not visible: time-based invalidation only.
	require.NoError(t, store.UpsertProfile(ctx, &profile.Profile{UserID: 2, Interests: []string{"art"}}))

	clock.Advance(9 * time.Minute)
	cached, err := r.Rank(ctx, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.scans.Load())
	assert.Equal(t, first, cached)

	clock.Advance(time.Minute)
	fresh, err := r.Rank(ctx, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.scans.Load())
	assert.Zero(t, fresh[0].Score)
}

func TestRank_ForceRefreshBypassesCache(t *testing.T) {
	clock := newFakeClock()
	store := seed(t, profile.Empty(1), profile.Empty(2))
	r := newRanker(t, store, NewMemoryCache(clock.Now), clock)
	ctx := context.Background()

	_, err := r.Rank(ctx, 1, Options{})
	require.NoError(t, err)
	_, err = r.Rank(ctx, 1, Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.scans.Load())
}

func TestRank_LargerTopNThanCachedRecomputes(t *testing.T) {
	clock := newFakeClock()
	store := seed(t, profile.Empty(1), profile.Empty(2), profile.Empty(3), profile.Empty(4))
	r := newRanker(t, store, NewMemoryCache(clock.Now), clock)
	ctx := context.Background()

	_, err := r.Rank(ctx, 1, Options{TopN: 1})
	require.NoError(t, err)

	got, err := r.Rank(ctx, 1, Options{TopN: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, int32(2), store.scans.Load())

	got, err = r.Rank(ctx, 1, Options{TopN: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), store.scans.Load())
}

func TestRank_ConcurrentMissesShareOneComputation(t *testing.T) {
	clock := newFakeClock()
	store := seed(t, profile.Empty(1), profile.Empty(2))
	store.gate = make(chan struct{})
	r := newRanker(t, store, NewMemoryCache(clock.Now), clock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Rank(context.Background(), 1, Options{})
			assert.NoError(t, err)
			assert.Equal(t, []int64{2}, ids(got))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.Equal(t, int32(1), store.scans.Load())
}

func TestRank_CallerCancellation(t *testing.T) {
	store := seed(t, profile.Empty(1), profile.Empty(2))
	store.gate = make(chan struct{})
	defer close(store.gate)
	r := newRanker(t, store, nil, newFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Rank(ctx, 1, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

type brokenCache struct{ sets atomic.Int32 }

func (c *brokenCache) Get(context.Context, int64) (*CacheEntry, error) {
	return nil, errors.New("redis: connection refused")
}

func (c *brokenCache) Set(context.Context, int64, *CacheEntry) error {
	c.sets.Add(1)
	return errors.New("redis: connection refused")
}

func TestRank_CacheFailureDegradesToRecompute(t *testing.T) {
	store := seed(t, profile.Empty(1), profile.Empty(2))
	cache := &brokenCache{}
	r := newRanker(t, store, cache, newFakeClock())

	got, err := r.Rank(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(got))
	assert.Equal(t, int32(1), cache.sets.Load())
}

type failingStore struct{ profile.Store }

func (failingStore) ScanProfiles(context.Context, int64) ([]*profile.Profile, error) {
	return nil, errors.New("db down")
}

func TestRank_StoreErrorPropagates(t *testing.T) {
	r := newRanker(t, failingStore{profile.NewMemoryStore()}, nil, newFakeClock())
	_, err := r.Rank(context.Background(), 1, Options{})
	assert.ErrorContains(t, err, "db down")
}

func TestRankPool_CancelledContext(t *testing.T) {
	scorer, err := scoring.New(similarity.NewTokenSet(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = RankPool(ctx, scorer, profile.Empty(1), []*profile.Profile{profile.Empty(2)}, 10)
	assert.ErrorIs(t, err, context.Canceled)
}
