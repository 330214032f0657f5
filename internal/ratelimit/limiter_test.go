package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	rdb.FlushDB(ctx)
	return rdb
}

func TestAllow_BlocksAfterLimit(t *testing.T) {
	rdb := setupTestRedis(t)
	l := NewLimiter(rdb, zerolog.Nop())
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "42", rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := l.Allow(ctx, "42", rule)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other identifiers are unaffected.
	ok, err = l.Allow(ctx, "43", rule)
	require.NoError(t, err)
	assert.True(t, ok)

	left, err := l.Remaining(ctx, "42", rule)
	require.NoError(t, err)
	assert.Equal(t, 0, left)
	assert.Positive(t, l.RetryAfter(ctx, "42", rule))
}

func TestRemaining_UnknownIdentifier(t *testing.T) {
	rdb := setupTestRedis(t)
	l := NewLimiter(rdb, zerolog.Nop())

	left, err := l.Remaining(context.Background(), "nobody", RuleSwipe)
	require.NoError(t, err)
	assert.Equal(t, RuleSwipe.Limit, left)
}

func TestAllow_FailsOpenWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	l := NewLimiter(rdb, zerolog.Nop())

	ok, err := l.Allow(context.Background(), "42", RuleSwipe)
	assert.Error(t, err)
	assert.True(t, ok)
}
