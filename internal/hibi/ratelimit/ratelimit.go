// Package ratelimit provides the per-user sliding-window limiter guarding
// /generate.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of generate calls allowed per user per
	// window when no explicit limit is configured.
	DefaultLimit = 5

	// DefaultWindow is the sliding window duration.
	DefaultWindow = time.Minute
)

// Limiter enforces a per-user sliding-window rate limit.
//
// It holds the call timestamps for each user within the current window and
// prunes stale entries on every Allow call, so memory stays bounded to
// O(limit) entries per active user.
//
// Limiter is safe for concurrent use from multiple goroutines.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string][]time.Time // userID → call timestamps in window
}

// New returns a Limiter that allows at most limit calls per user within
// window.  Non-positive arguments fall back to DefaultLimit and
// DefaultWindow.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string][]time.Time),
	}
}

// Limit returns the configured per-window limit.
func (r *Limiter) Limit() int { return r.limit }

// Allow reports whether userID may make another call and, if so, records it.
func (r *Limiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(userID, now)
	if len(valid) >= r.limit {
		r.counters[userID] = valid
		return false
	}
	r.counters[userID] = append(valid, now)
	return true
}

// Remaining returns how many calls userID can still make in the window.
func (r *Limiter) Remaining(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	valid := r.prune(userID, r.now())
	r.store(userID, valid)
	if rem := r.limit - len(valid); rem > 0 {
		return rem
	}
	return 0
}

// RetryAfter returns how long until userID's oldest call leaves the window.
// Zero means a call would be allowed now.
func (r *Limiter) RetryAfter(userID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(userID, now)
	r.store(userID, valid)
	if len(valid) < r.limit {
		return 0
	}
	return valid[0].Add(r.window).Sub(now)
}

// prune drops timestamps outside the window.  Caller holds r.mu.
func (r *Limiter) prune(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.counters[userID]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(r.counters, userID)
		return nil
	}
	return valid
}

func (r *Limiter) store(userID string, valid []time.Time) {
	if len(valid) > 0 {
		r.counters[userID] = valid
	}
}
