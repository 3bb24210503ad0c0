package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call outright.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position.
type State int

const (
	StateClosed   State = iota // calls flow normally
	StateOpen                  // calls are rejected
	StateHalfOpen              // one trial call is allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast once a provider endpoint has shown itself
// dead, instead of letting every query wait out retries and timeouts.
// After resetTimeout one trial call goes through; its outcome decides
// whether the circuit closes again.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       State
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the consecutive failures that trip the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the circuit stays open before trying again.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// NewCircuitBreaker creates a breaker named for the endpoint it guards.
// Defaults: trip after 5 consecutive failures, trial after 30 seconds.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the endpoint name the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// currentState folds the reset timeout into the reported state. Caller
// holds at least a read lock.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
}

// RecordFailure counts a failure, tripping the circuit at the limit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// admit reports whether a call may proceed and whether it is the
// half-open trial.
func (cb *CircuitBreaker) admit() (ok, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.currentState() {
	case StateOpen:
		return false, false
	case StateHalfOpen:
		cb.state = StateHalfOpen
		return true, true
	default:
		return true, false
	}
}

// settle records the outcome of an admitted call. A failed trial reopens
// the circuit without touching the failure count.
func (cb *CircuitBreaker) settle(trial bool, err error) {
	if err == nil {
		cb.RecordSuccess()
		return
	}
	if trial {
		cb.mu.Lock()
		cb.state = StateOpen
		cb.lastFailure = time.Now()
		cb.mu.Unlock()
		return
	}
	cb.RecordFailure()
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	ok, trial := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.settle(trial, err)
	return err
}

// CircuitExecuteWithResult runs fn through the breaker. When the circuit
// is open, or the half-open trial fails, fallback supplies the result
// instead. The embedding and chat clients use the fallback to surface a
// provider-unavailable error without waiting out retries.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn, fallback func() (T, error)) (T, error) {
	ok, trial := cb.admit()
	if !ok {
		return fallback()
	}
	result, err := fn()
	cb.settle(trial, err)
	if err != nil && trial {
		return fallback()
	}
	return result, err
}
