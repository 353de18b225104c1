// Package resilience guards calls to external dependencies with a circuit
// breaker and bounded exponential-backoff retries that always end in either
// a real result or a fallback result.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"shopassist/internal/infra/logger"
)

// State is the breaker's position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// CircuitBreaker tracks consecutive failures of one external dependency.
//
// The breaker is open iff failures >= failMax and resetTimeout has not
// elapsed since the last failure. Once it has elapsed, IsOpen moves the
// breaker to half-open and lets the next call through as a trial. Any
// success closes it.
type CircuitBreaker struct {
	name         string
	failMax      int
	resetTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	onOpen       func(name string, failures int)

	mu          sync.Mutex
	failures    int
	state       State
	lastFailure time.Time
}

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithLogger sets the logger used for trip warnings.
func WithLogger(l *slog.Logger) BreakerOption {
	return func(cb *CircuitBreaker) { cb.logger = l }
}

// OnOpen registers a callback invoked (outside the lock) each time the breaker trips.
func OnOpen(fn func(name string, failures int)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onOpen = fn }
}

// NewCircuitBreaker creates a closed breaker that opens after failMax
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(name string, failMax int, resetTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if failMax <= 0 {
		failMax = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	cb := &CircuitBreaker{
		name:         name,
		failMax:      failMax,
		resetTimeout: resetTimeout,
		logger:       logger.Discard(),
		now:          time.Now,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the protected dependency's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// RecordSuccess resets the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
}

// RecordFailure counts a failure and trips the breaker once failMax is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.failures++
	cb.lastFailure = cb.now()
	tripped := cb.failures >= cb.failMax
	if tripped {
		cb.state = StateOpen
	}
	failures := cb.failures
	cb.mu.Unlock()

	if tripped {
		cb.logger.Warn("circuit breaker opened",
			"breaker", cb.name,
			"failures", failures,
			"reset_timeout", cb.resetTimeout,
		)
		if cb.onOpen != nil {
			cb.onOpen(cb.name, failures)
		}
	}
}

// IsOpen reports whether calls should be denied. An open breaker whose reset
// timeout has elapsed moves to half-open and reports false.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return false
	}
	if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.logger.Info("circuit breaker half-open", "breaker", cb.name)
		return false
	}
	return true
}

// State returns the breaker's current position without transitioning it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// LastFailure returns the time of the most recent failure, or the zero time.
func (cb *CircuitBreaker) LastFailure() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastFailure
}
