// Package security provides request throttling for the relay surfaces.
package security

import (
	"sync"
	"time"
)

// SlidingWindowLimiter counts events per key inside a rolling window.
// Relays use it to keep one chat participant from monopolizing the
// single bridge session.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewSlidingWindowLimiter allows limit events per key per window.
// A non-positive limit disables throttling.
func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		hits:   map[string][]time.Time{},
	}
}

// Allow records one event for key and reports whether it fits the window.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	arr := l.hits[key]
	kept := arr[:0]
	for _, t := range arr {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.hits[key] = kept
		return false
	}
	kept = append(kept, now)
	l.hits[key] = kept
	return true
}

// Reset drops the recorded events for key.
func (l *SlidingWindowLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.hits, key)
	l.mu.Unlock()
}
