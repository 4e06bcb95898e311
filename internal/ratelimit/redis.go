package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter with sorted-set sliding windows in
// Redis, so limits hold across server instances.
//
// Each (key, window) pair is one sorted set of request timestamps scored
// by unix nanos. A check prunes expired members, counts the rest, and
// conditionally records the new request — all in one pipeline round trip
// per window.
type RedisLimiter struct {
	client *redis.Client
	limits Limits
}

// NewRedisLimiter connects to Redis at url (redis:// form) and returns a
// distributed limiter.
func NewRedisLimiter(url string, limits Limits) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ratelimit: ping redis: %w", err)
	}
	return &RedisLimiter{client: client, limits: limits}, nil
}

// NewRedisLimiterWithClient wraps an existing client. Used by tests.
func NewRedisLimiterWithClient(client *redis.Client, limits Limits) *RedisLimiter {
	return &RedisLimiter{client: client, limits: limits}
}

// Allow checks both windows and records the request when permitted.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()

	minuteUsed, minuteReset, err := rl.windowCount(ctx, key+":m", now, time.Minute)
	if err != nil {
		return Decision{}, err
	}
	hourUsed, hourReset, err := rl.windowCount(ctx, key+":h", now, time.Hour)
	if err != nil {
		return Decision{}, err
	}

	d := decide(minuteUsed, hourUsed, rl.limits, minuteReset, hourReset)
	if !d.Allowed {
		return d, nil
	}

	// Record the request in both windows. The member must be unique per
	// request or concurrent hits at the same nano collapse into one.
	member := uuid.NewString()
	pipe := rl.client.TxPipeline()
	pipe.ZAdd(ctx, key+":m", redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key+":m", 2*time.Minute)
	pipe.ZAdd(ctx, key+":h", redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key+":h", 2*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: record request: %w", err)
	}
	return d, nil
}

// windowCount prunes expired members and returns the live count plus the
// time the oldest member leaves the window.
func (rl *RedisLimiter) windowCount(ctx context.Context, setKey string, now time.Time, span time.Duration) (int, time.Time, error) {
	cutoff := now.Add(-span).UnixNano()

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, setKey, "-inf", fmt.Sprintf("%d", cutoff))
	count := pipe.ZCard(ctx, setKey)
	oldest := pipe.ZRangeWithScores(ctx, setKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: window count: %w", err)
	}

	resetAt := now.Add(span)
	if members, err := oldest.Result(); err == nil && len(members) > 0 {
		resetAt = time.Unix(0, int64(members[0].Score)).Add(span)
	}
	return int(count.Val()), resetAt, nil
}

// Close releases the Redis connection.
func (rl *RedisLimiter) Close() error {
	return rl.client.Close()
}
