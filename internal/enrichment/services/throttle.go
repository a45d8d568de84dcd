package services

import (
	"context"
	"sync"
	"time"
)

// Throttle paces external calls with a single-token, wall-clock floor:
// every Wait returns at least the configured interval after the previous
// one did. No persistent state; restarts simply start a fresh clock.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
}

// NewThrottle creates a throttle with the given minimum interval
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Wait blocks until the interval since the previous call has elapsed or
// ctx is cancelled
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()

	now := time.Now()
	remaining := t.interval - now.Sub(t.lastCall)
	if remaining <= 0 {
		t.lastCall = now
		t.mu.Unlock()
		return nil
	}

	t.lastCall = now.Add(remaining)
	t.mu.Unlock()

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interval returns the configured floor
func (t *Throttle) Interval() time.Duration {
	return t.interval
}
