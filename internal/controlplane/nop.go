package controlplane

import (
	"context"
	"time"
)

var _ Plane = Nop{}

// Nop is the control plane for cache-less deployments: enforcement is always
// active, telemetry is discarded, and administrative writes fail loudly so
// operators know the kill switch is not wired up.
type Nop struct{}

func (Nop) Enabled(ctx context.Context, app string) bool { return true }

func (Nop) SetEnabled(ctx context.Context, app string, enabled bool) error {
	return ErrUnavailable
}

func (Nop) RecordOutcome(ctx context.Context, app string, ok bool, latency time.Duration) {}

func (Nop) Window(ctx context.Context, app string, minutes int) Stats { return Stats{} }
