package scraper

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter paces live portal requests. Each request is separated from
// the previous one by a random delay drawn from [minDelay, maxDelay], which
// keeps the request cadence inside what the portal tolerates while avoiding
// a fixed machine-regular interval. Cache hits never pass through here.
type RateLimiter struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	lastRequest time.Time
	mu          sync.Mutex
}

// NewRateLimiter creates a rate limiter with the given delay bounds
func NewRateLimiter(minDelay, maxDelay time.Duration) *RateLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &RateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

// Wait blocks until the next live request is allowed, or until the context
// is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delay := rl.nextDelay()
	nextAllowed := rl.lastRequest.Add(delay)

	now := time.Now()
	if now.Before(nextAllowed) {
		timer := time.NewTimer(nextAllowed.Sub(now))
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	rl.lastRequest = time.Now()
	return nil
}

// nextDelay draws a random delay within the configured bounds.
func (rl *RateLimiter) nextDelay() time.Duration {
	spread := rl.maxDelay - rl.minDelay
	if spread <= 0 {
		return rl.minDelay
	}
	return rl.minDelay + time.Duration(rand.Int63n(int64(spread)))
}
