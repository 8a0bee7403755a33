package core

import (
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// CircuitClosed means calls pass through normally.
	CircuitClosed CircuitBreakerState = "closed"
	// CircuitOpen means calls fail immediately.
	CircuitOpen CircuitBreakerState = "open"
	// CircuitHalfOpen means a limited number of probe calls are allowed.
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker tuning.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
	// MaxHalfOpenRequests caps concurrent probes in the half-open state.
	MaxHalfOpenRequests uint32
}

// DefaultCircuitBreakerConfig returns sensible defaults for outbound
// notification delivery.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         3,
		Timeout:             time.Minute,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker protects the engine from a failing external collaborator.
// The notifier wraps its webhook endpoint with one so a dead endpoint
// costs a counter bump instead of an HTTP timeout per delta.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	state        CircuitBreakerState
	failures     uint32
	lastFailTime time.Time
	halfOpenReqs uint32
	mu           sync.Mutex
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if config.MaxHalfOpenRequests == 0 {
		config.MaxHalfOpenRequests = 1
	}
	return &CircuitBreaker{config: config, state: CircuitClosed}
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrCircuitOpen until the timeout elapses, then admits limited probes.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailTime) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.halfOpenReqs = 0
		fallthrough
	case CircuitHalfOpen:
		if cb.halfOpenReqs >= cb.config.MaxHalfOpenRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenReqs++
		return nil
	}
	return nil
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailTime = time.Now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.state = CircuitOpen
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
