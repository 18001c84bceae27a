package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// Bucket serializes requests that share a rate-limit bucket key and remembers
// the cooldown the remote service imposed on that key.
//
// The lock is channel-based rather than a sync.Mutex so acquisition can be
// abandoned through the context and so blocked waiters are granted the lock
// in FIFO order.
type Bucket struct {
	sem chan struct{}

	// cooldownUntil is a unix timestamp in milliseconds; zero means no
	// cooldown. Written by the dispatcher after it releases the lock.
	cooldownUntil atomic.Int64

	// lastUsed is a unix timestamp in milliseconds of the most recent Get or
	// Unlock, consulted by the registry's eviction pass.
	lastUsed atomic.Int64

	// refs counts outstanding references handed out by Registry.Get. A bucket
	// with live references is never evicted, so a caller that fetched it but
	// has not locked it yet still shares state with every other caller of the
	// same key.
	refs atomic.Int32
}

func newBucket() *Bucket {
	b := &Bucket{sem: make(chan struct{}, 1)}
	b.sem <- struct{}{}
	return b
}

// Lock acquires the bucket lock, blocking until it is available or the
// context is done.
func (b *Bucket) Lock(ctx context.Context) error {
	select {
	case <-b.sem:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the bucket lock. It panics if the bucket is not locked,
// matching sync.Mutex semantics.
func (b *Bucket) Unlock() {
	b.touch()
	select {
	case b.sem <- struct{}{}:
	default:
		panic("ratelimit: unlock of unlocked bucket")
	}
}

// Release returns the reference taken by Registry.Get. It panics if called
// more times than Get handed the bucket out.
func (b *Bucket) Release() {
	b.touch()
	if b.refs.Add(-1) < 0 {
		panic("ratelimit: release of unreferenced bucket")
	}
}

func (b *Bucket) touch() {
	b.lastUsed.Store(time.Now().UnixMilli())
}

// SetCooldown records that requests on this bucket must not be sent before
// the given time.
func (b *Bucket) SetCooldown(until time.Time) {
	b.cooldownUntil.Store(until.UnixMilli())
}

// CooldownUntil reports the current cooldown deadline. The zero time means
// the bucket is not cooling down.
func (b *Bucket) CooldownUntil() time.Time {
	ms := b.cooldownUntil.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// WaitCooldown blocks until the bucket cooldown has passed or the context is
// done. A cooldown expiring exactly now does not block.
func (b *Bucket) WaitCooldown(ctx context.Context) error {
	return sleepUntil(ctx, b.CooldownUntil())
}

// idle reports whether the bucket is unreferenced, its lock is free, and it
// has not been handed out since the cutoff. Used by the registry's eviction
// pass; callers must hold the registry mutex to keep the check meaningful.
func (b *Bucket) idle(cutoff time.Time) bool {
	return b.refs.Load() == 0 && len(b.sem) == 1 && b.lastUsed.Load() < cutoff.UnixMilli()
}

// sleepUntil blocks until t or context cancellation, whichever comes first.
// Deadlines at or before now return immediately without scheduling a timer.
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
