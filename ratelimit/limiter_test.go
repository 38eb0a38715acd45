package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-registrar/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLimiterAllowsUpToMaxAttempts(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := ratelimit.New(client, ratelimit.Config{MaxAttempts: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "reset:ada@example.com")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d should pass", i+1)
	}

	ok, err := limiter.Allow(ctx, "reset:ada@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "reset:grace@example.com")
	require.NoError(t, err)
	assert.True(t, ok, "keys are counted independently")
}

func TestLimiterWindowExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := ratelimit.New(client, ratelimit.Config{MaxAttempts: 1, Window: time.Minute})
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "verify:1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "verify:1")
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = limiter.Allow(ctx, "verify:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterRemainingAndReset(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := ratelimit.New(client, ratelimit.Config{MaxAttempts: 3, Window: time.Minute})
	ctx := context.Background()

	left, err := limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, left)

	_, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)

	left, err = limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	require.NoError(t, limiter.Reset(ctx, "k"))
	left, err = limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, left)
}

func TestLimiterDoesNotStoreRawKeys(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := ratelimit.New(client, ratelimit.Config{})

	_, err := limiter.Allow(context.Background(), "reset:ada@example.com")
	require.NoError(t, err)

	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "ada@example.com")
	}
}

func TestLimiterReportsBackendFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.New(client, ratelimit.Config{})
	mr.Close()

	ok, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}
