package session

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter guarding adapter sends, adapted
// from the teacher's agent-level limiter but scoped to a session: the
// spec treats an adapter-reported rate limit as fatal (no local retry),
// so this limiter's job is purely to avoid tripping the backend's own
// limit in the first place.
type RateLimiter struct {
	mu sync.Mutex

	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastTime   time.Time
	now        func() time.Time
}

// NewRateLimiter builds a limiter for perMinute requests, matching the
// teacher's perHour constructor shape but in the finer-grained unit the
// session package needs.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	capacity := float64(perMinute) / 6
	if capacity < 1 {
		capacity = 1
	}
	return &RateLimiter{
		capacity:   capacity,
		refillRate: float64(perMinute) / 60.0,
		tokens:     capacity,
		lastTime:   time.Now(),
		now:        time.Now,
	}
}

// Allow reports whether a send may proceed immediately, consuming a
// token if so.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		deficit := 1 - rl.tokens
		wait := time.Duration(deficit / rl.refillRate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (rl *RateLimiter) refill() {
	now := rl.now()
	elapsed := now.Sub(rl.lastTime).Seconds()
	if elapsed > 0 {
		rl.tokens += elapsed * rl.refillRate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
		rl.lastTime = now
	}
}

// AdapterRateLimited is returned by the prompt executor when the adapter itself
// reports a rate-limit response. The spec requires this to be fatal: a
// checkpoint is written with status=error and no automatic retry is
// attempted (spec §4.4).
type AdapterRateLimited struct {
	RetryAfter time.Duration
}

func (e *AdapterRateLimited) Error() string {
	if e.RetryAfter > 0 {
		return "adapter reported rate limit; retry after " + e.RetryAfter.String()
	}
	return "adapter reported rate limit"
}
