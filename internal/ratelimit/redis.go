package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// countScript increments the window counter and returns count plus remaining
// TTL in one round trip, so concurrent instances never race a read-then-write.
var countScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

var _ Limiter = (*RedisLimiter)(nil)

// RedisLimiter shares fixed-window counters across application instances.
// When the cache cannot be reached it degrades to an in-process limiter:
// still a limiter, never unlimited.
type RedisLimiter struct {
	client   *redis.Client
	cfg      Config
	prefix   string
	fallback *MemoryLimiter
}

func NewRedis(client *redis.Client, name string, cfg Config) *RedisLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	return &RedisLimiter{
		client:   client,
		cfg:      cfg,
		prefix:   "artel:rl:" + name + ":",
		fallback: NewMemory(cfg, defaultCapacity),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	if l.client == nil {
		return l.fallback.Allow(ctx, key)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := countScript.Run(ctx, l.client, []string{l.prefix + key}, l.cfg.Window.Milliseconds()).Result()
	if err != nil {
		return l.fallback.Allow(ctx, key)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return l.fallback.Allow(ctx, key)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = l.cfg.Window.Milliseconds()
	}
	resetAt := time.Now().UTC().Add(time.Duration(ttlMs) * time.Millisecond)

	remaining := l.cfg.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   int(count) <= l.cfg.Max,
		Limit:     l.cfg.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(ttlMs) * time.Millisecond
	}
	return d
}
