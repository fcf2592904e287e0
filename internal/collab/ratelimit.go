package collab

import (
	"sync"
	"time"
)

const (
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Second
)

type rateWindow struct {
	count     int
	startedAt time.Time
}

// RateLimiter is a fixed-window event counter per user. Bursts of up to twice
// the limit are possible across a window boundary.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*rateWindow),
	}
}

// Admit counts one event for userID and reports whether it is within the limit.
func (rl *RateLimiter) Admit(userID string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[userID]
	if !ok || now.Sub(w.startedAt) >= rl.window {
		w = &rateWindow{startedAt: now}
		rl.windows[userID] = w
	}

	w.count++
	return w.count <= rl.limit
}

// Forget drops the window of a disconnected user.
func (rl *RateLimiter) Forget(userID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, userID)
}
