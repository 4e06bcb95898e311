// Package ratelimit provides a pluggable per-project rate limiter.
//
// Single-instance deployments use the in-memory sliding window
// (MemoryLimiter). Multi-instance deployments substitute the Redis-backed
// implementation for cross-instance coordination; the Limiter interface
// is the contract.
package ratelimit

import (
	"context"
	"time"
)

// Limits is the pair of sliding windows enforced per key. Burst adds
// extra headroom on top of the minute window for short spikes; it does
// not affect the hour window.
type Limits struct {
	PerMinute int
	PerHour   int
	Burst     int
}

// MinuteCapacity is the effective minute-window capacity.
func (l Limits) MinuteCapacity() int {
	return l.PerMinute + l.Burst
}

// WindowState reports one sliding window's standing after a check.
type WindowState struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Decision reports the outcome of a limit check. Both windows are
// reported so responses can carry per-window X-RateLimit-* headers.
type Decision struct {
	Allowed bool
	Minute  WindowState
	Hour    WindowState
}

// RetryAt returns when a denied request may next succeed: the reset of
// whichever exhausted window clears last.
func (d Decision) RetryAt() time.Time {
	var at time.Time
	if d.Minute.Remaining == 0 && d.Minute.ResetAt.After(at) {
		at = d.Minute.ResetAt
	}
	if d.Hour.Remaining == 0 && d.Hour.ResetAt.After(at) {
		at = d.Hour.ResetAt
	}
	return at
}

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow records one request for key and returns the decision.
	// The key is opaque; callers construct it (e.g. "project:<id>").
	// Returning an error signals a limiter malfunction; callers should
	// treat errors as fail-open (permit the request) rather than
	// blocking traffic.
	Allow(ctx context.Context, key string) (Decision, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// decide evaluates both windows against their capacities and, when the
// request passes, accounts for it in the reported remainders.
func decide(minuteUsed, hourUsed int, limits Limits, minuteReset, hourReset time.Time) Decision {
	minuteCap := limits.MinuteCapacity()
	d := Decision{
		Minute: WindowState{Limit: minuteCap, Remaining: minuteCap - minuteUsed, ResetAt: minuteReset},
		Hour:   WindowState{Limit: limits.PerHour, Remaining: limits.PerHour - hourUsed, ResetAt: hourReset},
	}
	d.Allowed = d.Minute.Remaining > 0 && d.Hour.Remaining > 0
	if d.Allowed {
		d.Minute.Remaining--
		d.Hour.Remaining--
	}
	if d.Minute.Remaining < 0 {
		d.Minute.Remaining = 0
	}
	if d.Hour.Remaining < 0 {
		d.Hour.Remaining = 0
	}
	return d
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits. Window limits are zero, which callers treat as
// "no headers to report".
func (NoopLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
