package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRateLimiterAllow(t *testing.T) {
	_, rdb := newRedis(t)

	rl := NewRateLimiter(rdb, "test", 2)
	now := time.Date(2026, 2, 13, 10, 15, 0, 0, time.UTC)

	allowed, used, resetAt, err := rl.allow(context.Background(), 10, now)
	if err != nil {
		t.Fatalf("allow#1: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected first call allowed with used=1, got allowed=%v used=%d", allowed, used)
	}
	if !resetAt.Equal(time.Date(2026, 2, 13, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected reset time %v", resetAt)
	}

	allowed, used, _, err = rl.allow(context.Background(), 10, now)
	if err != nil {
		t.Fatalf("allow#2: %v", err)
	}
	if !allowed || used != 2 {
		t.Fatalf("expected second call allowed with used=2, got allowed=%v used=%d", allowed, used)
	}

	allowed, _, err = rl.Allow(context.Background(), 10, now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed {
		t.Fatalf("expected third call denied")
	}

	allowed, _, _ = rl.Allow(context.Background(), 11, now)
	if !allowed {
		t.Fatalf("limit must be per user")
	}

	allowed, _, _ = rl.Allow(context.Background(), 10, now.Add(time.Hour))
	if !allowed {
		t.Fatalf("next window must start fresh")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	_, rdb := newRedis(t)
	rl := NewRateLimiter(rdb, "test", 0)
	for i := 0; i < 5; i++ {
		if allowed, _, err := rl.Allow(context.Background(), 1, time.Now()); err != nil || !allowed {
			t.Fatalf("disabled limiter denied call %d: %v", i, err)
		}
	}
}

func TestUpdateDeduplicator(t *testing.T) {
	mr, rdb := newRedis(t)
	d := NewUpdateDeduplicator(rdb, "test", time.Minute)

	first, err := d.MarkFirst(context.Background(), 42)
	if err != nil || !first {
		t.Fatalf("expected first delivery, got %v err=%v", first, err)
	}
	again, _ := d.MarkFirst(context.Background(), 42)
	if again {
		t.Fatalf("redelivered update must be rejected")
	}

	mr.FastForward(2 * time.Minute)
	after, _ := d.MarkFirst(context.Background(), 42)
	if !after {
		t.Fatalf("update id must be accepted after ttl")
	}
}
