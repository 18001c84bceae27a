package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// SharedThrottle distributes the global throttle deadline across processes.
// Implementations are advisory: a read or write failure must not fail the
// request that triggered it.
type SharedThrottle interface {
	// GlobalReset returns the shared deadline, or the zero time when none
	// is set.
	GlobalReset(ctx context.Context) (time.Time, error)

	// SetGlobalReset publishes a new deadline.
	SetGlobalReset(ctx context.Context, until time.Time) error
}

// GlobalThrottle holds the process-wide cooldown imposed by a globally rate
// limited response. Reads are lock-free; the deadline is advisory and each
// dispatch rechecks it, so a brief over- or under-wait at the boundary is
// acceptable.
type GlobalThrottle struct {
	resetAt atomic.Int64 // unix milliseconds, zero when inactive
	shared  SharedThrottle
}

// NewGlobalThrottle creates a global throttle. The shared store is optional;
// pass nil for purely local state.
func NewGlobalThrottle(shared SharedThrottle) *GlobalThrottle {
	return &GlobalThrottle{shared: shared}
}

// ResetAt reports the deadline before which no request may be sent. With a
// shared store attached, the later of the local and shared deadlines wins;
// shared read failures fall back to local state.
func (g *GlobalThrottle) ResetAt(ctx context.Context) time.Time {
	local := g.local()
	if g.shared == nil {
		return local
	}
	remote, err := g.shared.GlobalReset(ctx)
	if err != nil || remote.Before(local) {
		return local
	}
	return remote
}

// Extend moves the deadline forward to the given time. It never moves the
// deadline backward, and publishes to the shared store when one is attached.
func (g *GlobalThrottle) Extend(ctx context.Context, until time.Time) {
	ms := until.UnixMilli()
	for {
		cur := g.resetAt.Load()
		if ms <= cur {
			break
		}
		if g.resetAt.CompareAndSwap(cur, ms) {
			break
		}
	}
	if g.shared != nil {
		_ = g.shared.SetGlobalReset(ctx, until)
	}
}

// Wait blocks until the global cooldown has passed or the context is done.
func (g *GlobalThrottle) Wait(ctx context.Context) error {
	return sleepUntil(ctx, g.ResetAt(ctx))
}

func (g *GlobalThrottle) local() time.Time {
	ms := g.resetAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
