package ratelimiter

import "context"

// RateLimiter is the interface for rate limiting.
// Allow is the non-blocking form; Wait blocks until the request may proceed
// or the context is cancelled.
type RateLimiter interface {
	// Allow returns true if the request is allowed, otherwise returns false.
	Allow() bool

	// Wait blocks until a request is allowed. It returns the context error
	// if the context is cancelled while waiting.
	Wait(ctx context.Context) error
}
