package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// LeakyBucket implements the RateLimiter interface using the leaky bucket algorithm.
// It ensures a steady outflow of requests, smoothing out bursts.
type LeakyBucket struct {
	rate         float64   // The rate at which the bucket leaks (requests per second).
	capacity     float64   // The maximum capacity of the bucket.
	waterLevel   float64   // The current "water level" (number of requests) in the bucket.
	lastLeakTime time.Time // The last time the bucket was leaked.
	mutex        sync.Mutex
}

// NewLeakyBucket creates a new LeakyBucket.
// rate: the number of requests to process per second.
// capacity: the maximum burst size (bucket capacity).
func NewLeakyBucket(rate float64, capacity int) *LeakyBucket {
	return &LeakyBucket{
		rate:         rate,
		capacity:     float64(capacity),
		lastLeakTime: time.Now(),
	}
}

// leak drains water accumulated since the last check. Callers must hold mutex.
func (lb *LeakyBucket) leak(now time.Time) {
	elapsed := now.Sub(lb.lastLeakTime)
	if elapsed <= 0 {
		return
	}
	lb.waterLevel -= elapsed.Seconds() * lb.rate
	if lb.waterLevel < 0 {
		lb.waterLevel = 0
	}
	lb.lastLeakTime = now
}

// Allow checks if a request is allowed.
// It calculates how much the bucket has "leaked" since the last request
// and determines if there is enough capacity for the new request.
func (lb *LeakyBucket) Allow() bool {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()

	lb.leak(time.Now())
	if lb.waterLevel < lb.capacity {
		lb.waterLevel++
		return true
	}
	return false
}

// Wait blocks until the bucket has room for one more request or the context
// is cancelled.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	for {
		lb.mutex.Lock()
		lb.leak(time.Now())
		if lb.waterLevel < lb.capacity {
			lb.waterLevel++
			lb.mutex.Unlock()
			return nil
		}
		overflow := lb.waterLevel - lb.capacity + 1
		delay := time.Duration(overflow / lb.rate * float64(time.Second))
		lb.mutex.Unlock()

		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
