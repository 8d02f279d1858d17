package reporting

import (
	"sync"
	"time"

	"github.com/rbias/crashwatch/internal/config"
)

// CircuitBreakerState represents the current state of the circuit breaker
type CircuitBreakerState int

const (
	// StateClosed means analysis is healthy.
	StateClosed CircuitBreakerState = iota
	// StateOpen means the failure threshold was reached.
	StateOpen
)

func (s CircuitBreakerState) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

const defaultFailureThreshold = 3

// CircuitBreaker counts consecutive analysis failures and decides when the
// system-level degraded and recovered notices go out.
type CircuitBreaker struct {
	mu         sync.Mutex
	threshold  int
	maxReasons int
	now        func() time.Time

	state            CircuitBreakerState
	failureCount     int
	firstFailureTime time.Time
	lastFailureTime  time.Time
	reasons          []string
	alerted          bool
}

// FailureStats describes the current run of failures.
type FailureStats struct {
	Count            int
	FirstFailureTime time.Time
	LastFailureTime  time.Time
	Duration         time.Duration
	RecentReasons    []string
}

// NewCircuitBreaker creates a breaker that opens after threshold consecutive
// failures. A non-positive threshold falls back to 3.
func NewCircuitBreaker(threshold int, tuning *config.TuningConfig) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	maxReasons := tuning.Reporting.MaxFailureReasonsTracked
	if maxReasons <= 0 {
		maxReasons = 5
	}
	return &CircuitBreaker{
		threshold:  threshold,
		maxReasons: maxReasons,
		now:        time.Now,
		state:      StateClosed,
		reasons:    make([]string, 0, maxReasons),
	}
}

// RecordFailure records one failed analysis. It returns true exactly once per
// outage, on the failure that opens the circuit.
func (cb *CircuitBreaker) RecordFailure(reason string) (openedNow bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if cb.failureCount == 0 {
		cb.firstFailureTime = now
	}
	cb.failureCount++
	cb.lastFailureTime = now

	cb.reasons = append(cb.reasons, reason)
	if len(cb.reasons) > cb.maxReasons {
		cb.reasons = cb.reasons[len(cb.reasons)-cb.maxReasons:]
	}

	if cb.failureCount >= cb.threshold {
		cb.state = StateOpen
	}
	if cb.state == StateOpen && !cb.alerted {
		cb.alerted = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit. recovered is true when a degraded notice
// had gone out, and stats then describe the outage that just ended.
func (cb *CircuitBreaker) RecordSuccess() (recovered bool, stats FailureStats) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	recovered = cb.alerted
	stats = cb.statsLocked()
	cb.resetLocked()
	return recovered, stats
}

// Stats returns a snapshot of the current failure run.
func (cb *CircuitBreaker) Stats() FailureStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.statsLocked()
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) statsLocked() FailureStats {
	var duration time.Duration
	if cb.failureCount > 0 {
		duration = cb.lastFailureTime.Sub(cb.firstFailureTime)
	}
	reasons := make([]string, len(cb.reasons))
	copy(reasons, cb.reasons)

	return FailureStats{
		Count:            cb.failureCount,
		FirstFailureTime: cb.firstFailureTime,
		LastFailureTime:  cb.lastFailureTime,
		Duration:         duration,
		RecentReasons:    reasons,
	}
}

func (cb *CircuitBreaker) resetLocked() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.firstFailureTime = time.Time{}
	cb.lastFailureTime = time.Time{}
	cb.reasons = cb.reasons[:0]
	cb.alerted = false
}
