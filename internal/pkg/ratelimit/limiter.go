// Package ratelimit provides a sliding-window burst limiter keyed by
// user and endpoint, with interchangeable Redis and in-memory backends.
// The limiter protects against rapid bursts; monthly quotas are
// enforced separately by the admission gate.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Key identifies one limiter bucket.
type Key struct {
	UserID   uint
	Endpoint string
}

func (k Key) String() string {
	return fmt.Sprintf("burst:%d:%s", k.UserID, k.Endpoint)
}

// Config holds the sliding-window parameters.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultConfig matches the production defaults: 20 requests per
// 5-minute trailing window.
func DefaultConfig() Config {
	return Config{Window: 5 * time.Minute, MaxRequests: 20}
}

// Limiter is a sliding-window burst counter. Backend failures never
// surface to callers: both implementations fail open, so neither method
// returns an error.
type Limiter interface {
	// Check reports whether the key is currently under the limit,
	// without recording anything.
	Check(ctx context.Context, key Key) (allowed bool, count int)
	// Increment records a request and returns the in-window count
	// including it.
	Increment(ctx context.Context, key Key) int
}
