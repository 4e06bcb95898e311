package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is a sliding-window log of request times for one key.
type window struct {
	minute     []time.Time
	hour       []time.Time
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with an in-memory sliding-window log
// per key.
//
// Each key tracks its request timestamps over the last minute and hour;
// a request is allowed only when both windows have headroom. A background
// goroutine evicts stale entries to bound memory.
type MemoryLimiter struct {
	limits Limits

	mu   sync.Mutex
	keys map[string]*window

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a sliding-window limiter. A background
// goroutine evicts keys not accessed in the last 10 minutes beyond their
// hour window. Call Close to stop it.
func NewMemoryLimiter(limits Limits) *MemoryLimiter {
	m := &MemoryLimiter{
		limits: limits,
		keys:   make(map[string]*window),
		done:   make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow records the request unless either window is full.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	w, ok := m.keys[key]
	if !ok {
		w = &window{}
		m.keys[key] = w
	}
	w.lastAccess = now
	w.minute = prune(w.minute, now.Add(-time.Minute))
	w.hour = prune(w.hour, now.Add(-time.Hour))

	d := decide(len(w.minute), len(w.hour), m.limits,
		oldestReset(w.minute, now, time.Minute),
		oldestReset(w.hour, now, time.Hour))
	if d.Allowed {
		w.minute = append(w.minute, now)
		w.hour = append(w.hour, now)
	}
	return d, nil
}

// oldestReset is when the oldest recorded request leaves the window.
func oldestReset(ts []time.Time, now time.Time, span time.Duration) time.Time {
	if len(ts) > 0 {
		return ts[0].Add(span)
	}
	return now.Add(span)
}

// prune drops timestamps at or before cutoff. Slices are kept sorted by
// insertion, so a single scan from the front suffices.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

// cleanup periodically evicts keys that haven't been accessed recently.
func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour - staleThreshold)
	for key, w := range m.keys {
		if w.lastAccess.Before(cutoff) {
			delete(m.keys, key)
		}
	}
}
