// Package controlplane holds the per-application kill switch and minute
// metric buckets kept in the shared cache. Flag reads fail open and metric
// writes are best-effort: the control plane must never take the protected
// applications down with it.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"artel.org/internal/obs"
)

// ErrUnavailable reports that the shared cache could not be reached for an
// operation that refuses to fail silently (administrative writes).
var ErrUnavailable = errors.New("controlplane: cache unavailable")

// Stats aggregates a read window of minute buckets.
type Stats struct {
	OK           int64   `json:"ok"`
	Err          int64   `json:"err"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Plane is the control surface consulted by per-application middleware.
type Plane interface {
	// Enabled reports whether enforcement is active for the application.
	// Cache outages and absent flags both mean enabled.
	Enabled(ctx context.Context, app string) bool

	// SetEnabled is an administrative write; unlike reads it fails loudly,
	// since a silently dropped write would mislead operators.
	SetEnabled(ctx context.Context, app string, enabled bool) error

	// RecordOutcome adds one request outcome to the current minute bucket.
	// Best-effort: failures are logged, never surfaced.
	RecordOutcome(ctx context.Context, app string, ok bool, latency time.Duration)

	// Window aggregates the last N minute buckets. Returns zeros, not an
	// error, when the cache is unavailable.
	Window(ctx context.Context, app string, minutes int) Stats
}

const (
	opTimeout       = 2 * time.Second
	bucketRetention = 10 * time.Minute

	// DefaultWindowMinutes is the lookback used by dashboard reads.
	DefaultWindowMinutes = 5
)

var _ Plane = (*RedisPlane)(nil)

// RedisPlane stores flags and buckets in the shared cache so every
// application instance observes the same state.
type RedisPlane struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisPlane(client *redis.Client) *RedisPlane {
	return &RedisPlane{client: client, prefix: "artel:cp:", now: time.Now}
}

func (p *RedisPlane) flagKey(app string) string {
	return p.prefix + "enabled:" + app
}

func (p *RedisPlane) bucketKey(app string, minute int64) string {
	return p.prefix + "m:" + app + ":" + strconv.FormatInt(minute, 10)
}

// flagValue is the tagged result of a flag read, so the fail-open default is
// a visible branch rather than a swallowed error.
type flagValue struct {
	found bool
	value bool
	err   error
}

func (p *RedisPlane) readFlag(ctx context.Context, app string) flagValue {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := p.client.Get(ctx, p.flagKey(app)).Result()
	if errors.Is(err, redis.Nil) {
		return flagValue{found: false}
	}
	if err != nil {
		return flagValue{err: err}
	}
	return flagValue{found: true, value: raw == "1"}
}

func (p *RedisPlane) Enabled(ctx context.Context, app string) bool {
	fv := p.readFlag(ctx, app)
	switch {
	case fv.err != nil:
		// Fail open: the protected application's availability outranks
		// the control plane's.
		return true
	case !fv.found:
		return true
	default:
		return fv.value
	}
}

func (p *RedisPlane) SetEnabled(ctx context.Context, app string, enabled bool) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	val := "0"
	if enabled {
		val = "1"
	}
	if err := p.client.Set(ctx, p.flagKey(app), val, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *RedisPlane) RecordOutcome(ctx context.Context, app string, ok bool, latency time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	minute := p.now().UTC().Unix() / 60
	key := p.bucketKey(app, minute)
	field := "err"
	if ok {
		field = "ok"
	}
	pipe := p.client.TxPipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.HIncrBy(ctx, key, "lat_ms", latency.Milliseconds())
	pipe.Expire(ctx, key, bucketRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "controlplane outcome record failed",
			"app":   app,
			"error": err.Error(),
		})
	}
}

func (p *RedisPlane) Window(ctx context.Context, app string, minutes int) Stats {
	if minutes <= 0 {
		minutes = DefaultWindowMinutes
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stats Stats
	var totalLat int64
	current := p.now().UTC().Unix() / 60
	for i := int64(0); i < int64(minutes); i++ {
		vals, err := p.client.HGetAll(ctx, p.bucketKey(app, current-i)).Result()
		if err != nil {
			// Dashboards get zeros instead of an error page.
			return Stats{}
		}
		stats.OK += parseInt(vals["ok"])
		stats.Err += parseInt(vals["err"])
		totalLat += parseInt(vals["lat_ms"])
	}
	if total := stats.OK + stats.Err; total > 0 {
		stats.AvgLatencyMs = float64(totalLat) / float64(total)
	}
	return stats
}

func parseInt(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
