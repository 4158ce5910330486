package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-process fallback used when Redis is not
// available. One mutex guards all buckets; entries have no TTL, so a
// background sweep drops buckets that emptied out.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string][]int64

	config Config
	now    func() time.Time

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewMemoryLimiter builds an in-memory limiter. Call Start to run the
// background sweep and Stop on shutdown.
func NewMemoryLimiter(config Config) *MemoryLimiter {
	return &MemoryLimiter{
		buckets:   make(map[string][]int64),
		config:    config,
		now:       time.Now,
		sweepStop: make(chan struct{}),
	}
}

// Check counts the in-window entries without recording.
func (l *MemoryLimiter) Check(_ context.Context, key Key) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := len(l.pruned(key.String()))
	return count < l.config.MaxRequests, count
}

// Increment prunes expired entries, appends now and returns the bucket
// length.
func (l *MemoryLimiter) Increment(_ context.Context, key Key) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key.String()
	bucket := append(l.pruned(k), l.now().UnixNano())
	l.buckets[k] = bucket
	return len(bucket)
}

// pruned returns the bucket with expired head entries dropped. Caller
// holds the mutex.
func (l *MemoryLimiter) pruned(k string) []int64 {
	cutoff := l.now().Add(-l.config.Window).UnixNano()
	bucket := l.buckets[k]
	i := 0
	for i < len(bucket) && bucket[i] <= cutoff {
		i++
	}
	if i > 0 {
		bucket = bucket[i:]
		l.buckets[k] = bucket
	}
	return bucket
}

// Start launches the periodic sweep that drops empty buckets.
func (l *MemoryLimiter) Start() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-l.sweepStop:
				return
			}
		}
	}()
}

// Stop terminates the sweep goroutine. Safe to call more than once.
func (l *MemoryLimiter) Stop() {
	l.sweepOnce.Do(func() { close(l.sweepStop) })
}

func (l *MemoryLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.config.Window).UnixNano()
	for k, bucket := range l.buckets {
		i := 0
		for i < len(bucket) && bucket[i] <= cutoff {
			i++
		}
		if i == len(bucket) {
			delete(l.buckets, k)
		} else if i > 0 {
			l.buckets[k] = bucket[i:]
		}
	}
}
