package recommend

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CacheEntry is a cached ranking for one requesting user.
type CacheEntry struct {
	Items []Recommendation `json:"items"`
	// Limit is the topN the ranking was truncated to. A ranking shorter than
	// its limit covers the whole candidate pool.
	Limit     int       `json:"limit"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Serves reports whether the entry can answer a request for n results.
func (e *CacheEntry) Serves(n int) bool {
	return n <= e.Limit || len(e.Items) < e.Limit
}

// Cache stores rankings keyed by requesting user. Get returns (nil, nil) on
// a miss or for an expired entry.
type Cache interface {
	Get(ctx context.Context, userID int64) (*CacheEntry, error)
	Set(ctx context.Context, userID int64, entry *CacheEntry) error
}

// MemoryCache is a process-local Cache. Expired entries are ignored by Get
// and removed by Sweep.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]*CacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache. A nil now uses time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[int64]*CacheEntry), now: now}
}

func (c *MemoryCache) Get(_ context.Context, userID int64) (*CacheEntry, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.ExpiresAt) {
		return nil, nil
	}
	return e, nil
}

// Set replaces any existing entry; concurrent writers are last-writer-wins.
func (c *MemoryCache) Set(_ context.Context, userID int64, entry *CacheEntry) error {
	c.mu.Lock()
	c.entries[userID] = entry
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	removed := 0
	c.mu.Lock()
	for id, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	c.mu.Unlock()
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (c *MemoryCache) StartSweeper(ctx context.Context, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cache sweeper stopped")
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("swept expired recommendations")
			}
		}
	}
}
