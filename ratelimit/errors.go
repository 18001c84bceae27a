package ratelimit

import "errors"

var (
	// ErrInvalidRedisURL indicates the Redis connection URL could not be
	// parsed.
	ErrInvalidRedisURL = errors.New("invalid redis connection URL")

	// ErrRedisNotReady indicates the Redis server did not become reachable
	// within the configured retry budget.
	ErrRedisNotReady = errors.New("redis not ready")
)
