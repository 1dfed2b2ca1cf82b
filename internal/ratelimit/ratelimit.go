// Package ratelimit provides token-bucket admission control for outbound
// remote store calls.
//
// The remote store enforces a strict request quota (e.g. 100 calls per 100
// seconds). A single process-wide Limiter sits in front of every outbound
// call, sized below the true quota as a safety margin, so flatsync never
// trips the external limit regardless of which project a call targets.
//
// Refill is computed lazily from elapsed wall-clock time at the moment of a
// call. There is no background goroutine, so correctness does not depend on
// scheduler precision.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Default sizing against the remote store's 100-per-100s quota: stay at 90%
// so bursts from other tooling sharing the quota don't push us over.
const (
	DefaultCapacity        = 90
	DefaultRefillPerSecond = 0.9
)

// QuotaError reports that the local quota budget is exhausted.
type QuotaError struct {
	// RetryAfter is the minimum wait before a call can succeed.
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("remote call quota exceeded, retry after %s", e.RetryAfter)
}

// Limiter is a lazily-refilled token bucket. All methods are safe for
// concurrent use.
type Limiter struct {
	mu              sync.Mutex
	tokens          float64
	capacity        int
	refillPerSecond float64
	lastRefill      time.Time
	now             func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a full Limiter with the given capacity and refill rate.
func New(capacity int, refillPerSecond float64, opts ...Option) *Limiter {
	l := &Limiter{
		tokens:          float64(capacity),
		capacity:        capacity,
		refillPerSecond: refillPerSecond,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastRefill = l.now()
	return l
}

// refill recomputes the token count from elapsed time. Callers must hold mu.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens = math.Min(float64(l.capacity), l.tokens+elapsed*l.refillPerSecond)
	}
	l.lastRefill = now
}

// Check admits one remote call, consuming a token. When no whole token is
// available it fails with a *QuotaError carrying the minimum wait; the
// bucket is never driven negative. Callers are responsible for backing off;
// Check never blocks or retries.
func (l *Limiter) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < 1 {
		seconds := math.Ceil((1 - l.tokens) / l.refillPerSecond)
		return &QuotaError{RetryAfter: time.Duration(seconds) * time.Second}
	}
	l.tokens--
	return nil
}

// Tokens returns the current token count. It refills but never charges, so
// inspection is free.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	return l.tokens
}

// Capacity returns the bucket capacity.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Reset restores the bucket to full capacity, for test isolation.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = float64(l.capacity)
	l.lastRefill = l.now()
}

// Process-wide limiter shared by every remote client in the process. The
// limiter is deliberately not shared across processes; two flatsync
// processes against the same remote quota will each keep their own budget.
var (
	defaultLimiter *Limiter
	defaultMu      sync.Mutex
)

// Default returns the shared process-wide limiter, creating it with default
// sizing on first use.
func Default() *Limiter {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLimiter == nil {
		defaultLimiter = New(DefaultCapacity, DefaultRefillPerSecond)
	}
	return defaultLimiter
}

// SetDefault replaces the shared limiter, e.g. with one sized from config.
func SetDefault(l *Limiter) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLimiter = l
}

// ResetDefault restores the shared limiter to full capacity, for tests.
func ResetDefault() {
	Default().Reset()
}
