package recommend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for cached rankings:
//
//	Key:   recommend:<user_id>
//	Value: JSON CacheEntry
//	TTL:   until ExpiresAt
const KeyPrefix = "recommend:"

// RedisCache stores rankings in Redis with native key expiry.
type RedisCache struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisCache creates a cache backed by rdb. A nil now uses time.Now.
func NewRedisCache(rdb *redis.Client, now func() time.Time) *RedisCache {
	if now == nil {
		now = time.Now
	}
	return &RedisCache{rdb: rdb, now: now}
}

func cacheKey(userID int64) string {
	return KeyPrefix + strconv.FormatInt(userID, 10)
}

func (c *RedisCache) Get(ctx context.Context, userID int64) (*CacheEntry, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recommend: cache get: %w", err)
	}

	var e CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("recommend: cache decode: %w", err)
	}
	if !c.now().Before(e.ExpiresAt) {
		return nil, nil
	}
	return &e, nil
}

func (c *RedisCache) Set(ctx context.Context, userID int64, entry *CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("recommend: cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(userID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("recommend: cache set: %w", err)
	}
	return nil
}
