package internal

import (
	"sync"
	"time"
)

// RateLimiter enforces a sliding-window request cap per key. The auth
// endpoints key it by client IP.
type RateLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	limit   int
	window  time.Duration
	lastGC  time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		lastGC: time.Now(),
	}
}

// Allow records a hit for key and reports whether it stays under the limit.
func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	windowStart := now.Add(-r.window)
	slice := r.hits[key]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	slice = slice[:idx]
	if len(slice) >= r.limit {
		r.hits[key] = slice
		return false
	}
	r.hits[key] = append(slice, now)

	// drop idle keys so the map does not grow with every client ever seen
	if now.Sub(r.lastGC) > r.window*10 {
		for k, v := range r.hits {
			if len(v) == 0 || !v[len(v)-1].After(windowStart) {
				delete(r.hits, k)
			}
		}
		r.lastGC = now
	}
	return true
}
