package ratelimit

import (
	"sync"
	"time"
)

// Registry lazily provisions one Bucket per bucket key. The same key always
// yields the same Bucket instance for as long as it is live; first access
// from concurrent callers is safe and only briefly serialized on the
// registry's own map guard.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCleanupInterval sets how often idle buckets are evicted. An interval
// of zero or less disables eviction.
func WithCleanupInterval(interval time.Duration) RegistryOption {
	return func(r *Registry) {
		r.cleanupInterval = interval
	}
}

// NewRegistry creates a bucket registry. Unless eviction is disabled, a
// background loop periodically drops buckets that are unreferenced, whose
// lock is free, and whose cooldown has passed; an evicted key is simply
// re-provisioned on next use, losing only its cooldown memory.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		buckets:         make(map[string]*Bucket),
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cleanupInterval > 0 {
		go r.cleanupLoop()
	}
	return r
}

// Get returns the bucket for the given key, creating it on first access. The
// bucket is pinned against eviction until the caller hands it back with
// Bucket.Release, so waiting on its cooldown or lock never races a cleanup
// pass.
func (r *Registry) Get(key string) *Bucket {
	r.mu.RLock()
	b, ok := r.buckets[key]
	if ok {
		// Pinned before the guard drops; cleanup takes the write lock and
		// therefore cannot observe this bucket unreferenced anymore.
		b.refs.Add(1)
	}
	r.mu.RUnlock()
	if ok {
		b.touch()
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buckets[key]; ok {
		b.refs.Add(1)
		b.touch()
		return b
	}
	b = newBucket()
	b.refs.Add(1)
	b.touch()
	r.buckets[key] = b
	return b
}

// Len reports the number of live buckets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets)
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets that are unreferenced, unlocked, past their cooldown,
// and untouched for a full interval. Eviction never touches a bucket some
// caller still holds: Get pins and Release unpins, both under the map guard's
// protection, so serialization per key survives arbitrarily long pre-lock
// waits.
func (r *Registry) cleanup() {
	now := time.Now()
	cutoff := now.Add(-r.cleanupInterval)
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, b := range r.buckets {
		if b.idle(cutoff) && b.CooldownUntil().Before(now) {
			delete(r.buckets, key)
		}
	}
}

// Close stops the eviction loop. It is safe to call multiple times.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopCleanup)
	})
	return nil
}
