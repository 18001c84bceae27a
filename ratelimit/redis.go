package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultThrottleKey = "quackscordia:global_reset"

// RedisThrottle is a SharedThrottle backed by Redis. Sharded deployments of
// one bot point every process at the same key so a global 429 observed by one
// shard pauses all of them.
//
// The stored value is the deadline in unix milliseconds and expires on its
// own once the deadline passes, so the key never needs explicit cleanup.
type RedisThrottle struct {
	client redis.Cmdable
	key    string
}

// RedisThrottleOption configures a RedisThrottle.
type RedisThrottleOption func(*RedisThrottle)

// WithThrottleKey overrides the Redis key holding the shared deadline. Use
// it when one Redis instance serves several distinct bots.
func WithThrottleKey(key string) RedisThrottleOption {
	return func(t *RedisThrottle) {
		if key != "" {
			t.key = key
		}
	}
}

// NewRedisThrottle creates a Redis-backed shared throttle.
func NewRedisThrottle(client redis.Cmdable, opts ...RedisThrottleOption) *RedisThrottle {
	t := &RedisThrottle{client: client, key: defaultThrottleKey}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GlobalReset returns the shared deadline, or the zero time when no shard has
// published one.
func (t *RedisThrottle) GlobalReset(ctx context.Context) (time.Time, error) {
	val, err := t.client.Get(ctx, t.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// SetGlobalReset publishes the deadline, keyed to expire when it passes.
func (t *RedisThrottle) SetGlobalReset(ctx context.Context, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return t.client.Set(ctx, t.key, strconv.FormatInt(until.UnixMilli(), 10), ttl).Err()
}
