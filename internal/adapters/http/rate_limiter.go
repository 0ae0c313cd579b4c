package http

import (
	"sync"
	"time"
)

// ClientRateLimiter allows at most limit calls per client token within a
// sliding interval.
type ClientRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewClientRateLimiter(limit int, interval time.Duration) *ClientRateLimiter {
	return &ClientRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *ClientRateLimiter) Allow(token string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[token]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[token] = fresh
		return false
	}
	rl.history[token] = append(fresh, now)
	return true
}
