package internal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter keyed by an arbitrary string,
// typically a client IP. Used to slow brute-force attempts on the auth
// endpoints. Keys that go a full window without a hit are evicted so the
// map does not grow with every client ever seen.
type RateLimiter struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow records a hit for key and reports whether it stays within the limit.
func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	windowStart := now.Add(-r.window)
	if now.Sub(r.lastSweep) > r.window {
		r.sweepLocked(windowStart)
		r.lastSweep = now
	}
	slice := pruneBefore(r.hits[key], windowStart)
	if len(slice) >= r.limit {
		r.hits[key] = slice
		return false
	}
	r.hits[key] = append(slice, now)
	return true
}

// sweepLocked drops keys whose hits all fell out of the window.
func (r *RateLimiter) sweepLocked(windowStart time.Time) {
	for key, slice := range r.hits {
		pruned := pruneBefore(slice, windowStart)
		if len(pruned) == 0 {
			delete(r.hits, key)
			continue
		}
		r.hits[key] = pruned
	}
}

func pruneBefore(slice []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for _, ts := range slice {
		if ts.After(cutoff) {
			slice[idx] = ts
			idx++
		}
	}
	return slice[:idx]
}
