// Package ratelimit provides the per-route bucket and global throttle state
// used by the REST dispatcher.
//
// Discord scopes its rate limits to "buckets" derived from the request method
// and path. Resolve maps a (method, path) pair onto a stable bucket key, the
// Registry lazily provisions one Bucket per key, and GlobalThrottle tracks the
// service-wide cooldown that a globally rate limited response imposes on every
// bucket at once.
//
// # Basic Usage
//
//	registry := ratelimit.NewRegistry()
//	defer registry.Close()
//
//	bucket := registry.Get(ratelimit.Resolve("GET", "/channels/123/messages/456"))
//	defer bucket.Release()
//	if err := bucket.Lock(ctx); err != nil {
//		return err
//	}
//	defer bucket.Unlock()
//
// Requests sharing a bucket key are serialized by the bucket lock; requests on
// different keys proceed independently. Blocked Lock calls are granted in FIFO
// order. Get pins the bucket against eviction until Release, so a caller that
// waits a long time before locking still shares the bucket with everyone else
// on the same key.
//
// # Shared Global State
//
// A RedisThrottle can be attached to a GlobalThrottle so that several
// processes of the same bot (shards) observe one global cooldown together.
// The shared state is advisory: local state remains authoritative and Redis
// failures never fail a request.
package ratelimit
