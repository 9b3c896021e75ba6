package go_fvm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/logger"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed lets publishes through and counts failures.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen fails publishes fast until the reset timeout elapsed.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen lets a trial call through to test recovery.
	CircuitHalfOpen CircuitState = "half-open"
)

// ErrCircuitOpen is returned by Execute while the circuit is open.
var ErrCircuitOpen = errors.New("fvm: circuit breaker is open")

// CircuitBreaker guards a network send path. After maxFailures consecutive
// failures it opens and rejects calls without attempting them; once
// resetTimeout has passed a single trial call is allowed through.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	state        CircuitState
	mu           sync.Mutex
}

// NewCircuitBreaker creates a closed breaker. A maxFailures of zero never
// opens automatically.
//
//	cb := NewCircuitBreaker("udp:eth0", 5, time.Second)
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			log.WithField("breaker", cb.name).Debug("Circuit breaker half-open, probing")
			return nil
		}
		return fmt.Errorf("%w: %s (last failure %v ago)", ErrCircuitOpen, cb.name,
			time.Since(cb.lastFailure).Round(time.Millisecond))
	case CircuitHalfOpen, CircuitClosed:
		return nil
	default:
		return fmt.Errorf("circuit breaker %s in unknown state: %s", cb.name, cb.state)
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == CircuitHalfOpen {
			log.WithField("breaker", cb.name).Debug("Circuit breaker closed after successful trial call")
		}
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailure = time.Now()
	switch cb.state {
	case CircuitClosed:
		if cb.maxFailures > 0 && cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			log.WithFields(logger.Fields{
				"breaker":  cb.name,
				"failures": cb.failures,
			}).WithError(err).Warn("Circuit breaker opened")
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		log.WithField("breaker", cb.name).Debug("Circuit breaker re-opened after failed trial call")
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == CircuitOpen }

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker{name=%s, state=%s, failures=%d/%d}",
		cb.name, cb.state, cb.failures, cb.maxFailures)
}
