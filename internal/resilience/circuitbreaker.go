// Package resilience provides circuit breaking and provider failover for the
// hosted model backends a session depends on.
//
// A live session makes dozens of LLM, STT and TTS calls per minute; when one
// backend degrades, retrying it on every question stalls the whole boardroom.
// [CircuitBreaker] is a classic three-state breaker (closed, open, half-open)
// that rejects calls to a failing backend until it has had time to recover.
// [FallbackGroup] composes several instances of the same provider type, each
// behind its own breaker, so a healthy backup takes over while the primary's
// circuit is open. [LLMFallback], [STTFallback] and [TTSFallback] wrap a group
// in the corresponding provider interface so callers stay unaware of the
// failover.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the reset timeout has not yet elapsed. Callers that can degrade
// (skip audio, skip the recall check) should treat it as a soft failure.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call. Normal operation.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after too
	// many consecutive failures, left once the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. All probes
	// succeeding closes the breaker; a single probe failure re-opens it.
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

// CircuitBreakerConfig holds the tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log output, typically the provider name.
	Name string

	// MaxFailures is how many consecutive failures the closed breaker
	// tolerates before opening. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing the
	// backend again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker implements the three-state circuit breaker pattern around an
// unreliable call. It is safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu            sync.Mutex
	state         State
	failures      int       // consecutive failures seen while closed
	lastFailure   time.Time // reset window is measured from here
	probesStarted int
	probesOK      int
}

// NewCircuitBreaker creates a [CircuitBreaker] from cfg, substituting defaults
// for zero-valued fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state fn is not called
// and [ErrCircuitOpen] is returned. In the half-open state at most HalfOpenMax
// probe calls are admitted; the rest are rejected until the probes settle.
// fn's error is returned unchanged, but [context.Canceled] does not count
// toward opening the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

// allow decides whether a call may proceed and handles the open to half-open
// transition. probe reports whether the admitted call counts against the
// half-open budget.
func (cb *CircuitBreaker) allow() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probesStarted = 0
		cb.probesOK = 0
		slog.Info("circuit breaker half-open", "name", cb.name)

	case StateHalfOpen:
		if cb.probesStarted >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probesStarted++
		return true, nil
	}
	return false, nil
}

// record folds the call outcome back into the breaker state.
func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		// A cancelled call says nothing about backend health; session teardown
		// must not trip a breaker shared with live sessions. Release the probe
		// slot so cancellation cannot strand the breaker half-open.
		if probe {
			cb.probesStarted--
		}
		return
	}

	if err == nil {
		if probe {
			cb.probesOK++
			if cb.probesOK >= cb.halfOpenMax {
				cb.state = StateClosed
				cb.failures = 0
				slog.Info("circuit breaker closed after successful probes",
					"name", cb.name)
			}
			return
		}
		cb.failures = 0
		return
	}

	cb.lastFailure = cb.now()
	if probe {
		// One failed probe is enough evidence that the backend is still down.
		cb.state = StateOpen
		cb.failures = cb.maxFailures
		slog.Warn("circuit breaker re-opened by failed probe", "name", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// State returns the breaker's current [State]. An open breaker whose reset
// timeout has elapsed is reported as [StateHalfOpen]; the stored transition
// happens on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probesStarted = 0
	cb.probesOK = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
