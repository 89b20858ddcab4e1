package ratelimit

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Profile names for the sensitive operations that carry their own limiter.
// Each profile is independently keyed: exhausting one never affects another.
const (
	ProfileLogin      = "login"
	ProfileSignup     = "signup"
	ProfileCheckout   = "checkout"
	ProfileRoleChange = "role_change"
	ProfilePayout     = "payout"
)

// ProfileConfigs fixes the window and threshold per profile.
var ProfileConfigs = map[string]Config{
	ProfileLogin:      {Window: 15 * time.Minute, Max: 5},
	ProfileSignup:     {Window: time.Hour, Max: 3},
	ProfileCheckout:   {Window: time.Minute, Max: 10},
	ProfileRoleChange: {Window: time.Hour, Max: 5},
	ProfilePayout:     {Window: 24 * time.Hour, Max: 3},
}

// Profiles bundles one limiter per sensitive operation.
type Profiles struct {
	limiters map[string]Limiter
}

// NewMemoryProfiles builds per-profile in-process limiters.
func NewMemoryProfiles(capacity int) *Profiles {
	limiters := make(map[string]Limiter, len(ProfileConfigs))
	for name, cfg := range ProfileConfigs {
		limiters[name] = NewMemory(cfg, capacity)
	}
	return &Profiles{limiters: limiters}
}

// NewRedisProfiles builds per-profile shared-cache limiters. Profile key
// prefixes keep the counters independent.
func NewRedisProfiles(client *redis.Client) *Profiles {
	limiters := make(map[string]Limiter, len(ProfileConfigs))
	for name, cfg := range ProfileConfigs {
		limiters[name] = NewRedis(client, name, cfg)
	}
	return &Profiles{limiters: limiters}
}

// Get returns the limiter for a profile name; unknown names return nil.
func (p *Profiles) Get(name string) Limiter {
	return p.limiters[name]
}
