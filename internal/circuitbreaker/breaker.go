package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Recovery attempts allowed
	StateOpen                  // Recovery attempts blocked until the cool-down elapses
	StateHalfOpen              // One trial result decides the next state
)

// Snapshot is a read-only view of a breaker.
type Snapshot struct {
	State       State     `json:"state" yaml:"state"`
	Failures    int       `json:"failures" yaml:"failures"`
	LastFailure time.Time `json:"last_failure" yaml:"last_failure"`
	NextRetry   time.Time `json:"next_retry" yaml:"next_retry"`
	Threshold   int       `json:"threshold" yaml:"threshold"`
}

type CircuitBreaker struct {
	mutex            sync.Mutex
	state            State
	failures         int
	lastFailure      time.Time
	nextRetry        time.Time
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
}

func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return newCircuitBreaker(threshold, timeout, time.Now)
}

func newCircuitBreaker(threshold int, timeout time.Duration, now func() time.Time) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     timeout,
		now:              now,
	}
}

// Allow reports whether a recovery attempt may proceed. An Open breaker whose
// cool-down has elapsed moves to HalfOpen and allows the attempt.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.promote()
	return cb.state != StateOpen
}

// RecordResult applies one outcome and returns the state before and after.
// The Open to HalfOpen promotion is evaluated before the outcome.
func (cb *CircuitBreaker) RecordResult(success bool) (from, to State) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	from = cb.state
	cb.promote()

	now := cb.now()

	switch cb.state {
	case StateClosed:
		if success {
			cb.failures = 0
			break
		}
		cb.failures++
		cb.lastFailure = now
		if cb.failures >= cb.failureThreshold {
			cb.trip(now)
		}

	case StateHalfOpen:
		if success {
			cb.failures = 0
			cb.state = StateClosed
			break
		}
		cb.failures = cb.failureThreshold
		cb.lastFailure = now
		cb.trip(now)

	case StateOpen:
		// Still cooling down; the outcome does not move the breaker.
		if !success {
			cb.lastFailure = now
		}
	}

	return from, cb.state
}

// Reset forces the breaker Closed regardless of its state.
func (cb *CircuitBreaker) Reset() (from State) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	from = cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.nextRetry = time.Time{}
	return from
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Snapshot{
		State:       cb.state,
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
		NextRetry:   cb.nextRetry,
		Threshold:   cb.failureThreshold,
	}
}

// promote must be called with the mutex held.
func (cb *CircuitBreaker) promote() {
	if cb.state == StateOpen && !cb.now().Before(cb.nextRetry) {
		cb.state = StateHalfOpen
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = StateOpen
	cb.nextRetry = now.Add(cb.resetTimeout)
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateClosed, StateOpen, StateHalfOpen} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown breaker state %q", text)
}
