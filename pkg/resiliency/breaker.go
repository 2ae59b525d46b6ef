// Package resiliency provides the circuit breaker and retrying HTTP client
// used around external calls: alert sinks, webhooks, and daemon cycles.
package resiliency

import (
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// CircuitBreaker opens after threshold failures inside a rolling window and
// stays open for the configured timeout. A half-open probe closes it again
// on success.
type CircuitBreaker struct {
	mu        sync.Mutex
	name      string
	threshold int
	window    time.Duration
	openFor   time.Duration
	now       func() time.Time

	failures []time.Time
	openedAt time.Time
	state    string
}

// NewCircuitBreaker builds a breaker that opens after threshold failures
// within window and stays open for openFor.
func NewCircuitBreaker(name string, threshold int, window, openFor time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		window:    window,
		openFor:   openFor,
		now:       time.Now,
		state:     StateClosed,
	}
}

// WithClock overrides the wall clock, for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow reports whether a call may proceed, transitioning to half-open
// when the open period has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) > cb.openFor {
			cb.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// Success closes the breaker and clears the failure window.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = cb.failures[:0]
}

// Failure records one failure; crossing the windowed threshold opens the
// breaker. A failed half-open probe reopens immediately.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedAt = now
		return
	}

	cb.failures = append(cb.failures, now)
	cb.prune(now)
	if len(cb.failures) >= cb.threshold {
		cb.state = StateOpen
		cb.openedAt = now
		cb.failures = cb.failures[:0]
	}
}

// State returns the current state name.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker's name for logging.
func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) prune(now time.Time) {
	if cb.window <= 0 {
		return
	}
	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = kept
}
