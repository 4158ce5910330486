package ratelimit

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps one sorted set per key, with request timestamps as
// both member and score. The add/expire/prune/count sequence runs in
// one pipeline so concurrent incrementers on the same key cannot
// interleave between steps.
type RedisLimiter struct {
	client *redis.Client
	config Config
	now    func() time.Time
}

// NewRedisLimiter builds a limiter on an existing Redis client.
func NewRedisLimiter(client *redis.Client, config Config) *RedisLimiter {
	return &RedisLimiter{client: client, config: config, now: time.Now}
}

// Check counts the in-window members without recording. Any backend
// error fails open.
func (l *RedisLimiter) Check(ctx context.Context, key Key) (bool, int) {
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key.String(), "0", formatScore(cutoff))
	card := pipe.ZCard(ctx, key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[RateLimit] Redis check for %s failed, allowing: %v", key, err)
		return true, 0
	}

	count := int(card.Val())
	return count < l.config.MaxRequests, count
}

// Increment records now and returns the post-prune cardinality. Members
// use nanosecond timestamps so two requests in the same second remain
// distinct entries.
func (l *RedisLimiter) Increment(ctx context.Context, key Key) int {
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	pipe := l.client.Pipeline()
	pipe.ZAdd(ctx, key.String(), redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key.String(), l.config.Window)
	pipe.ZRemRangeByScore(ctx, key.String(), "0", formatScore(cutoff))
	card := pipe.ZCard(ctx, key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[RateLimit] Redis increment for %s failed, allowing: %v", key, err)
		return 0
	}

	return int(card.Val())
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}
