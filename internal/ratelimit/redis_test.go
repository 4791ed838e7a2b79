package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), server
}

func TestRedisStoreCountsWithinWindow(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := int64(1); i <= 3; i++ {
		counter, err := store.Hit(ctx, "login:10.0.0.1", time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, i, counter.Count)
		assert.WithinDuration(t, now, counter.WindowStart, time.Second)
	}

	assert.True(t, server.Exists(redisKeyPrefix+"login:10.0.0.1"))
	assert.Equal(t, time.Minute, server.TTL(redisKeyPrefix+"login:10.0.0.1"))
}

func TestRedisStoreResetsAfterWindow(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Hit(ctx, "k", time.Minute, time.Now())
	require.NoError(t, err)
	_, err = store.Hit(ctx, "k", time.Minute, time.Now())
	require.NoError(t, err)

	server.FastForward(time.Minute)

	counter, err := store.Hit(ctx, "k", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Count)
}

func TestRedisStoreBehindLimiter(t *testing.T) {
	store, _ := newRedisStore(t)
	limiter := New(store, time.Minute, map[Class]int{Login: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Check(ctx, Login, "ip")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := limiter.Check(ctx, Login, "ip")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestRedisStoreReportsErrors(t *testing.T) {
	store, server := newRedisStore(t)
	server.Close()

	_, err := store.Hit(context.Background(), "k", time.Minute, time.Now())
	assert.Error(t, err)
}
