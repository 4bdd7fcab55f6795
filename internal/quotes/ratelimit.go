package quotes

import (
	"sync"
	"time"
)

// Default request budget against the market data API.
const (
	DefaultRateLimit  = 200
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter is a sliding-window request counter. Requests over the budget
// are rejected, never queued.
type RateLimiter struct {
	now    func() time.Time
	stamps []time.Time
	mu     sync.Mutex
	limit  int
	window time.Duration
}

// RateUsage is a snapshot of the limiter window.
type RateUsage struct {
	Current   int           `json:"current_requests"`
	Max       int           `json:"max_requests"`
	Remaining int           `json:"remaining"`
	Window    time.Duration `json:"-"`
	WindowMs  int64         `json:"window_ms"`
}

// NewRateLimiter creates a limiter allowing limit requests per window.
// Non-positive values select the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		now:    time.Now,
		stamps: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// prune drops timestamps that left the window. Caller holds mu.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}

// TryAcquire records a request and returns true if the budget allows it.
func (r *RateLimiter) TryAcquire() bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(now)
	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

// RetryAfter is the hint given to callers that were rejected.
func (r *RateLimiter) RetryAfter() time.Duration { return r.window }

// Limit returns the request budget per window.
func (r *RateLimiter) Limit() int { return r.limit }

// Usage reports how much of the budget the current window has used.
func (r *RateLimiter) Usage() RateUsage {
	now := r.now()
	r.mu.Lock()
	r.prune(now)
	n := len(r.stamps)
	r.mu.Unlock()

	return RateUsage{
		Current:   n,
		Max:       r.limit,
		Remaining: r.limit - n,
		Window:    r.window,
		WindowMs:  r.window.Milliseconds(),
	}
}

// Reset empties the window.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	r.stamps = r.stamps[:0]
	r.mu.Unlock()
}
