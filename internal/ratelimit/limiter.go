// Package ratelimit provides fixed-window request limiters: a capacity-
// bounded in-process store and a shared-cache variant for multi-instance
// deployments.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config fixes the window and threshold for one limiter.
type Config struct {
	Window time.Duration
	Max    int
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter gates one operation class keyed by caller-supplied identifiers.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryLimiter keeps fixed-window counters in a size-bounded map. When the
// store is full the oldest-inserted entry is evicted, which means that under
// sustained load from many distinct keys some limits can reset early. That
// is an accepted trade-off for bounded memory, not a bug.
type MemoryLimiter struct {
	mu       sync.Mutex
	cfg      Config
	capacity int
	items    map[string]windowEntry
	order    []string // insertion order for eviction
	now      func() time.Time
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

const defaultCapacity = 10000

// NewMemory constructs a bounded in-process limiter.
func NewMemory(cfg Config, capacity int) *MemoryLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryLimiter{
		cfg:      cfg,
		capacity: capacity,
		items:    make(map[string]windowEntry),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) Decision {
	now := l.now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()

	curr, ok := l.items[key]
	if !ok || now.After(curr.resetAt) {
		if !ok {
			l.evictIfFull()
			l.order = append(l.order, key)
		}
		curr = windowEntry{count: 0, resetAt: now.Add(l.cfg.Window)}
	}

	if curr.count >= l.cfg.Max {
		// Limited calls do not increment further.
		l.items[key] = curr
		return Decision{
			Allowed:    false,
			Limit:      l.cfg.Max,
			Remaining:  0,
			RetryAfter: curr.resetAt.Sub(now),
			ResetAt:    curr.resetAt,
		}
	}
	curr.count++
	l.items[key] = curr
	return Decision{
		Allowed:   true,
		Limit:     l.cfg.Max,
		Remaining: l.cfg.Max - curr.count,
		ResetAt:   curr.resetAt,
	}
}

// evictIfFull removes the single oldest live entry to make room.
func (l *MemoryLimiter) evictIfFull() {
	if len(l.items) < l.capacity {
		return
	}
	for len(l.order) > 0 {
		oldest := l.order[0]
		l.order = l.order[1:]
		if _, ok := l.items[oldest]; ok {
			delete(l.items, oldest)
			return
		}
		// Stale queue entry for a key already evicted or expired; keep going.
	}
}
