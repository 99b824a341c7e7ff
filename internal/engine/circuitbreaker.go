package engine

import (
	"sync"
	"time"
)

// CircuitState is one of the three states spec.md §3 CircuitBreaker names.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker isolates the remote HTTP backend from cascading failure.
// Grounded on jinterlante1206-AleutianLocal's cmd/aleutian/circuit_breaker.go,
// adapted from its success-threshold half-open design to the single-probe
// half-open design spec.md §3/§4.2.1 specifies: exactly one probe is allowed
// after the cooldown, and a half-open failure reopens with a fresh cooldown.
//
// No third-party circuit-breaker library appears anywhere in the retrieval
// pack; every example that needs one (AleutianLocal) hand-rolls it on
// sync.Mutex the same way this does, so that is the idiom followed here.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	state         CircuitState
	failures      int
	openedAt      time.Time
	nextAttemptAt time.Time
	note          string
}

// NewCircuitBreaker creates a closed breaker with the given failure
// threshold and cooldown.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            CircuitClosed,
	}
}

// Allow checks whether a dispatch attempt may proceed right now. If the
// circuit is open and the cooldown has elapsed, it transitions to
// half_open and allows exactly one probe (the caller that receives
// allow=true here is that probe).
func (cb *CircuitBreaker) Allow(now time.Time) (allow bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if now.Before(cb.nextAttemptAt) {
			return false
		}
		cb.state = CircuitHalfOpen
		return true
	default:
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.note = "healthy"
}

// RecordFailure increments the failure count (only once per exhausted
// Submit-level try, per spec.md §4.2.1's "threshold counts tries that
// exhausted retries, not every intermediate retry"). If the threshold is
// reached, or a half-open probe failed, the circuit opens with a fresh
// cooldown.
func (cb *CircuitBreaker) RecordFailure(now time.Time, note string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.note = note

	if cb.state == CircuitHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = now
		cb.nextAttemptAt = now.Add(cb.cooldown)
	}
}

// Snapshot returns a point-in-time read for Status.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitSnapshot{
		State:         string(cb.state),
		Failures:      cb.failures,
		OpenedAt:      cb.openedAt,
		NextAttemptAt: cb.nextAttemptAt,
	}
}

// Note returns the last human-readable status note.
func (cb *CircuitBreaker) Note() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.note
}
