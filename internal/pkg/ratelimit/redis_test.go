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

func newRedisLimiter(t *testing.T, config Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, config), mr
}

func TestRedisLimiterSlidingWindow(t *testing.T) {
	l, _ := newRedisLimiter(t, Config{Window: 5 * time.Second, MaxRequests: 3})
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	key := Key{UserID: 7, Endpoint: "/api/v1/data/query"}
	ctx := context.Background()

	var decisions []bool
	for i := 0; i < 4; i++ {
		allowed, _ := l.Check(ctx, key)
		decisions = append(decisions, allowed)
		l.Increment(ctx, key)
		now = now.Add(100 * time.Millisecond)
	}
	assert.Equal(t, []bool{true, true, true, false}, decisions)

	// Entries outside the trailing window are pruned on the next call.
	now = now.Add(6 * time.Second)
	allowed, count := l.Check(ctx, key)
	assert.True(t, allowed)
	assert.Zero(t, count)
	assert.Equal(t, 1, l.Increment(ctx, key))
}

func TestRedisLimiterSameInstantRequestsCountSeparately(t *testing.T) {
	l, _ := newRedisLimiter(t, Config{Window: time.Minute, MaxRequests: 100})
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	calls := 0
	// Two requests inside the same second get distinct nanosecond
	// members instead of overwriting each other.
	l.now = func() time.Time {
		calls++
		return now.Add(time.Duration(calls) * time.Nanosecond)
	}

	key := Key{UserID: 7, Endpoint: "/api/v1/data/query"}
	ctx := context.Background()

	assert.Equal(t, 1, l.Increment(ctx, key))
	assert.Equal(t, 2, l.Increment(ctx, key))
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	l, mr := newRedisLimiter(t, DefaultConfig())
	mr.Close()

	key := Key{UserID: 7, Endpoint: "/api/v1/data/query"}
	allowed, count := l.Check(context.Background(), key)
	assert.True(t, allowed, "an unreachable backend must not block requests")
	assert.Zero(t, count)
	assert.Zero(t, l.Increment(context.Background(), key))
}

func TestRedisLimiterSetsTTL(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{Window: 5 * time.Minute, MaxRequests: 20})

	key := Key{UserID: 7, Endpoint: "/api/v1/data/query"}
	l.Increment(context.Background(), key)

	require.True(t, mr.Exists(key.String()))
	assert.Equal(t, 5*time.Minute, mr.TTL(key.String()))
}
