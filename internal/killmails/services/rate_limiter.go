package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter keeps the feed polite: one request in flight, a wall-clock
// floor between requests, and exponential backoff for rate-limit hits and
// transport errors.
type RateLimiter struct {
	mu              sync.Mutex
	requestInFlight bool
	lastRequest     time.Time
	minInterval     time.Duration
	backoffLevel    int
	maxBackoffLevel int
	baseBackoff     time.Duration
}

// NewRateLimiter creates a rate limiter with the given minimum interval
// between requests
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		minInterval:     minInterval,
		baseBackoff:     5 * time.Second,
		maxBackoffLevel: 4, // caps backoff at 80s (5s * 2^4)
	}
}

// Acquire reserves the single request slot, waiting out the minimum
// interval since the previous request. A cancelled context returns the
// slot and reports ctx.Err(); a second Acquire before Release fails.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	if r.requestInFlight {
		r.mu.Unlock()
		return fmt.Errorf("request already in flight")
	}
	r.requestInFlight = true
	wait := r.minInterval - time.Since(r.lastRequest)
	r.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			r.Release()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.mu.Lock()
	r.lastRequest = time.Now()
	r.mu.Unlock()

	return nil
}

// Release returns the request slot
func (r *RateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestInFlight = false
}

// IncrementBackoff raises the backoff level after a rate-limit hit or
// transport error
func (r *RateLimiter) IncrementBackoff() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backoffLevel < r.maxBackoffLevel {
		r.backoffLevel++
	}
}

// ResetBackoff clears the backoff level after a successful poll
func (r *RateLimiter) ResetBackoff() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.backoffLevel = 0
}

// BackoffDuration returns the current backoff duration
func (r *RateLimiter) BackoffDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 5s, 10s, 20s, 40s, 80s
	return r.baseBackoff * time.Duration(1<<r.backoffLevel)
}

// Reset clears all rate limit state
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestInFlight = false
	r.backoffLevel = 0
	r.lastRequest = time.Time{}
}
