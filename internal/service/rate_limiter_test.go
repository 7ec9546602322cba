package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisClientForTest(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRateLimiter_Basic(t *testing.T) {
	client, _ := newRedisClientForTest(t)
	ctx := context.Background()

	limiter := NewRateLimiter(client)
	clock := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return clock }

	t.Run("allows requests within limit", func(t *testing.T) {
		key := "test:owner1"
		limit := 3
		window := 10 * time.Second

		for i := 0; i < limit; i++ {
			allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed, "Request should be rate limited")
		assert.True(t, resetAt.After(clock), "Reset time should be in future")
	})

	t.Run("sliding window behavior", func(t *testing.T) {
		key := "test:owner2"
		limit := 2
		window := 2 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed)

		clock = clock.Add(3 * time.Second)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		limit := 1
		window := 10 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.False(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, "test:independent2", limit, window)
		assert.True(t, allowed)
	})
}

func TestRateLimiter_FailsClosed(t *testing.T) {
	client, mr := newRedisClientForTest(t)
	mr.Close()

	limiter := NewRateLimiter(client)
	allowed, resetAt := limiter.CheckLimit(context.Background(), "test:key", 1, time.Minute)
	require.False(t, allowed, "Should deny request on Redis failure")
	require.True(t, resetAt.After(time.Now()), "Should return valid reset time")
}

func TestNonceGuard(t *testing.T) {
	client, mr := newRedisClientForTest(t)
	guard := NewNonceGuard(client, time.Hour)
	ctx := context.Background()

	fresh, err := guard.Advance(ctx, "0xsession", 1000)
	require.NoError(t, err)
	assert.True(t, fresh)

	t.Run("same nonce is a replay", func(t *testing.T) {
		fresh, err := guard.Advance(ctx, "0xsession", 1000)
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("lower nonce is a replay", func(t *testing.T) {
		fresh, err := guard.Advance(ctx, "0xsession", 999)
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("higher nonce advances", func(t *testing.T) {
		fresh, err := guard.Advance(ctx, "0xsession", 1_700_000_000_123)
		require.NoError(t, err)
		assert.True(t, fresh)
		assert.Equal(t, "1700000000123", mustGet(t, mr, "payment:nonce:0xsession"))
		assert.Greater(t, mr.TTL("payment:nonce:0xsession"), time.Duration(0))
	})

	t.Run("sessions are independent", func(t *testing.T) {
		fresh, err := guard.Advance(ctx, "0xother", 1)
		require.NoError(t, err)
		assert.True(t, fresh)
	})
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
