package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter counts routed messages per user in fixed hourly windows.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int64
}

func NewRateLimiter(rdb *redis.Client, prefix string, limit int64) *RateLimiter {
	if prefix == "" {
		prefix = "chatrelay"
	}
	return &RateLimiter{redis: rdb, prefix: prefix, limit: limit}
}

func (r *RateLimiter) Allow(ctx context.Context, userID int64, now time.Time) (allowed bool, resetAt time.Time, err error) {
	allowed, _, resetAt, err = r.allow(ctx, userID, now)
	return allowed, resetAt, err
}

func (r *RateLimiter) allow(ctx context.Context, userID int64, now time.Time) (bool, int64, time.Time, error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	if r.limit <= 0 {
		return true, 0, windowEnd, nil
	}
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("%s:ratelimit:%d:%s", r.prefix, userID, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// UpdateDeduplicator remembers telegram update ids so a redelivered update is
// handled once.
type UpdateDeduplicator struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewUpdateDeduplicator(rdb *redis.Client, prefix string, ttl time.Duration) *UpdateDeduplicator {
	if prefix == "" {
		prefix = "chatrelay"
	}
	return &UpdateDeduplicator{redis: rdb, prefix: prefix, ttl: ttl}
}

func (d *UpdateDeduplicator) MarkFirst(ctx context.Context, updateID int64) (bool, error) {
	key := fmt.Sprintf("%s:update:%d", d.prefix, updateID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
