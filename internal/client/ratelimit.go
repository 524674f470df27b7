package client

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound calls with a token bucket. Acquire blocks
// until a token is available or the context is cancelled.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows requestsPerSecond sustained throughput with the
// given burst. Non-positive arguments produce an unlimited limiter.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 || burst <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Acquire blocks until one token is available.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a token is available right now, consuming it if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}
