// Package ratelimit throttles tool invocations per user and contains
// backend failures behind a per-tool circuit breaker.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the sliding window length for all tool limits.
const Window = time.Minute

// DefaultPolicy is the per-tool request budget within one window. Exact
// figures are policy; anything not listed falls back to DefaultLimit.
var DefaultPolicy = map[string]int{
	"add_task":      100,
	"list_tasks":    500,
	"complete_task": 100,
	"update_task":   100,
	"delete_task":   50,
}

// DefaultLimit applies to tools without an explicit policy entry.
const DefaultLimit = 100

// bucket tracks request timestamps for one (user, tool) pair within the
// sliding window.
type bucket struct {
	mu       sync.Mutex
	stamps   []time.Time
	lastSeen time.Time
}

// Limiter enforces per-user-per-tool sliding window limits. It is
// explicitly constructed and injected; state lives for the process
// lifetime. Across multiple instances the counts are only locally correct.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	policy  map[string]int
	window  time.Duration
	now     func() time.Time
}

// NewLimiter creates a limiter with the given per-tool policy. A nil policy
// uses DefaultPolicy.
func NewLimiter(policy map[string]int) *Limiter {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		policy:  policy,
		window:  Window,
		now:     time.Now,
	}
}

// Allow reports whether userID may invoke tool now. When the limit is
// reached it returns false and the time until the oldest counted request
// leaves the window. A rejected call consumes no budget.
func (l *Limiter) Allow(userID, tool string) (bool, time.Duration) {
	limit, ok := l.policy[tool]
	if !ok {
		limit = DefaultLimit
	}

	b := l.bucket(userID + "\x00" + tool)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.lastSeen = now
	cutoff := now.Add(-l.window)

	// Drop timestamps that slid out of the window.
	kept := b.stamps[:0]
	for _, ts := range b.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.stamps = kept

	if len(b.stamps) >= limit {
		resetIn := b.stamps[0].Sub(cutoff)
		if resetIn < time.Second {
			resetIn = time.Second
		}
		return false, resetIn
	}

	b.stamps = append(b.stamps, now)
	return true, 0
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	return b
}

// CleanupStale evicts buckets idle longer than maxAge.
func (l *Limiter) CleanupStale(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := b.lastSeen.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Stats returns limiter statistics for observability.
func (l *Limiter) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]any{
		"buckets": len(l.buckets),
	}
}
