package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces calls to a per-minute budget by enforcing a minimum
// interval between successive Wait returns. The backfill batch path uses it
// to stay polite to the upstream data provider.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time // earliest instant the next call may proceed
}

// NewRateLimiter allows perMinute calls per minute, evenly spaced. A
// non-positive budget means no pacing.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{}
	if perMinute > 0 {
		rl.interval = time.Minute / time.Duration(perMinute)
	}
	return rl
}

// Wait blocks until this call's slot arrives or the context is cancelled.
// The first call never blocks.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	now := time.Now()
	wait := rl.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	// Reserve the slot before sleeping so concurrent waiters queue up
	// instead of dog-piling the same instant.
	if rl.next.Before(now) {
		rl.next = now
	}
	rl.next = rl.next.Add(rl.interval)
	rl.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
