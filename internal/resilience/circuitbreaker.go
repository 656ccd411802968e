// Package resilience keeps a pipeline talking when remote backends misbehave.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open).
// [FallbackGroup] composes several instances of one provider type, each with
// its own breaker, so a failing primary is bypassed in favour of the next
// healthy entry. [CloudGate] decides whether the cloud recognition route may
// be used for a segment. [TTSFallback] and [LLMFallback] apply failover to
// the speech synthesis and chat backends.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker
// rejects the call.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs
	// without the breaker lock held.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now. Used by tests.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int // admitted in half-open
	successes int // confirmed in half-open
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn if the breaker admits the call and records its outcome.
// A rejected call returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	halfOpen, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(halfOpen, err == nil)
	return err
}

// Allow reports whether a call made now would be admitted. It does not
// consume a half-open probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.currentLocked() {
	case StateOpen:
		return false
	case StateHalfOpen:
		return cb.state == StateOpen || cb.probes < cb.cfg.HalfOpenMax
	default:
		return true
	}
}

// State returns the effective state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentLocked()
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.probes, cb.successes = 0, 0, 0
	cb.mu.Unlock()
	cb.changed(from, StateClosed)
}

func (cb *CircuitBreaker) currentLocked() State {
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (halfOpen, ok bool) {
	cb.mu.Lock()
	var transition bool
	switch cb.currentLocked() {
	case StateOpen:
		cb.mu.Unlock()
		return false, false
	case StateHalfOpen:
		if cb.state == StateOpen {
			cb.state = StateHalfOpen
			cb.probes, cb.successes = 0, 0
			transition = true
		}
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return false, false
		}
		cb.probes++
		halfOpen = true
	}
	cb.mu.Unlock()
	if transition {
		cb.changed(StateOpen, StateHalfOpen)
	}
	return halfOpen, true
}

// record accounts for the outcome of an admitted call.
func (cb *CircuitBreaker) record(halfOpen, success bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case success && halfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax && cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.failures, cb.probes, cb.successes = 0, 0, 0
		}
	case success:
		cb.failures = 0
	case halfOpen:
		cb.state = StateOpen
		cb.openedAt = cb.cfg.Now()
	default:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures && cb.state == StateClosed {
			cb.state = StateOpen
			cb.openedAt = cb.cfg.Now()
		}
	}
	to, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if from != to {
		switch to {
		case StateOpen:
			slog.Warn("resilience: circuit breaker opened", "name", cb.cfg.Name, "from", from, "consecutive_failures", failures)
		case StateClosed:
			slog.Info("resilience: circuit breaker closed", "name", cb.cfg.Name)
		}
		cb.changed(from, to)
	}
}

func (cb *CircuitBreaker) changed(from, to State) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
