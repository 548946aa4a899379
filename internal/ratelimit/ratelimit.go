// Package ratelimit throttles beacon ingestion per client.
//
// MemoryLimiter is a per-process token bucket. A shared implementation for
// multi-instance deployments only needs to satisfy Limiter.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. Returning an error
	// signals a limiter malfunction; the middleware fails open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases background resources.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
