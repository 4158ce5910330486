package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(Config{Window: 5 * time.Second, MaxRequests: 3})
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

	// After the window elapses the next request is allowed again.
	now = now.Add(6 * time.Second)
	allowed, count := l.Check(ctx, key)
	assert.True(t, allowed)
	assert.Zero(t, count)
	assert.Equal(t, 1, l.Increment(ctx, key))
}

func TestMemoryLimiterIncrementReturnsInWindowCount(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(Config{Window: 10 * time.Second, MaxRequests: 100})
	l.now = func() time.Time { return now }

	key := Key{UserID: 7, Endpoint: "/api/v1/data/export"}
	ctx := context.Background()

	assert.Equal(t, 1, l.Increment(ctx, key))
	now = now.Add(4 * time.Second)
	assert.Equal(t, 2, l.Increment(ctx, key))
	now = now.Add(7 * time.Second)
	// The first entry is now 11s old and falls out of the window.
	assert.Equal(t, 2, l.Increment(ctx, key))
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(Config{Window: time.Minute, MaxRequests: 2})
	ctx := context.Background()

	a := Key{UserID: 7, Endpoint: "/api/v1/data/query"}
	b := Key{UserID: 7, Endpoint: "/api/v1/data/export"}
	c := Key{UserID: 8, Endpoint: "/api/v1/data/query"}

	l.Increment(ctx, a)
	l.Increment(ctx, a)

	allowed, _ := l.Check(ctx, a)
	assert.False(t, allowed)
	allowed, _ = l.Check(ctx, b)
	assert.True(t, allowed)
	allowed, _ = l.Check(ctx, c)
	assert.True(t, allowed)
}

func TestMemoryLimiterSweepDropsEmptyBuckets(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(Config{Window: time.Second, MaxRequests: 10})
	l.now = func() time.Time { return now }

	ctx := context.Background()
	l.Increment(ctx, Key{UserID: 7, Endpoint: "/a"})
	l.Increment(ctx, Key{UserID: 8, Endpoint: "/b"})

	now = now.Add(10 * time.Second)
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.buckets)
}

func TestMemoryLimiterStopIsIdempotent(t *testing.T) {
	l := NewMemoryLimiter(DefaultConfig())
	l.Start()
	l.Stop()
	l.Stop()
}
