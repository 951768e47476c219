package llm

import (
	"sync"
	"time"
)

// CircuitState is the breaker position for one provider.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls flow normally
	CircuitOpen                         // provider failing, calls rejected
	CircuitHalfOpen                     // recovery probe in flight
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one provider. Consecutive failures beyond the
// threshold open the circuit; after the recovery timeout one probe call is
// let through, and its outcome decides between closing and re-opening.
type CircuitBreaker struct {
	mu sync.Mutex

	state          CircuitState
	consecFailures int
	threshold      int
	recovery       time.Duration
	openedAt       time.Time
}

// NewCircuitBreaker builds a breaker that opens after threshold consecutive
// failures and probes again after the recovery timeout.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &CircuitBreaker{
		state:     CircuitClosed,
		threshold: threshold,
		recovery:  recovery,
	}
}

// Allow reports whether a call may go through, transitioning an expired
// open circuit to half-open as a side effect.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) >= cb.recovery {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the failure streak; a successful half-open probe
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecFailures = 0
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
	}
}

// RecordFailure extends the failure streak. A failed half-open probe
// re-opens immediately; in closed state the threshold applies.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecFailures++
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		return
	}
	if cb.consecFailures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive-failure streak.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecFailures
}

// Reset forces the circuit closed and clears the streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.consecFailures = 0
}
