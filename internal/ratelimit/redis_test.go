package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T, cfg Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "login", cfg), mr
}

func TestRedisLimiterCountsAcrossCalls(t *testing.T) {
	lim, _ := newRedisLimiter(t, Config{Window: 15 * time.Minute, Max: 3})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := lim.Allow(ctx, "alice")
		if !d.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	d := lim.Allow(ctx, "alice")
	if d.Allowed {
		t.Fatal("fourth call should be limited")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive RetryAfter, got %v", d.RetryAfter)
	}
}

func TestRedisLimiterWindowExpiry(t *testing.T) {
	lim, mr := newRedisLimiter(t, Config{Window: time.Minute, Max: 1})
	ctx := context.Background()

	if d := lim.Allow(ctx, "bob"); !d.Allowed {
		t.Fatal("first call should pass")
	}
	if d := lim.Allow(ctx, "bob"); d.Allowed {
		t.Fatal("second call should be limited")
	}
	mr.FastForward(61 * time.Second)
	if d := lim.Allow(ctx, "bob"); !d.Allowed {
		t.Fatal("call after window should pass")
	}
}

func TestRedisLimiterFallsBackWhenCacheDown(t *testing.T) {
	lim, mr := newRedisLimiter(t, Config{Window: time.Minute, Max: 1})
	ctx := context.Background()
	mr.Close()

	// Degrades to the in-process limiter: still enforcing, never unlimited.
	if d := lim.Allow(ctx, "carol"); !d.Allowed {
		t.Fatal("first fallback call should pass")
	}
	if d := lim.Allow(ctx, "carol"); d.Allowed {
		t.Fatal("second fallback call should be limited")
	}
}

func TestRedisLimiterNilClientUsesFallback(t *testing.T) {
	lim := NewRedis(nil, "login", Config{Window: time.Minute, Max: 2})
	ctx := context.Background()
	lim.Allow(ctx, "x")
	lim.Allow(ctx, "x")
	if d := lim.Allow(ctx, "x"); d.Allowed {
		t.Fatal("nil-client limiter must still limit")
	}
}
