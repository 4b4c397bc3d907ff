package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/safecircle/voice-guard/internal/clock"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether the dependency recovered
)

func (s CircuitState) String() string {
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

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	Name         string
	MaxFailures  int           // consecutive failures before opening
	ResetTimeout time.Duration // time spent open before probing
	HalfOpenMax  int           // successful probes needed to close again
	Clock        clock.Clock
	// OnStateChange is called outside the breaker lock after every transition.
	OnStateChange func(name string, from, to CircuitState)
}

// CircuitBreaker guards calls to a flaky dependency (remote synthesis, chat
// backend). It is safe for concurrent use.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failureCount  int
	successCount  int
	inFlightProbe int
	openedAt      time.Time
	requests      int64
	failures      int64
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Name returns the dependency name the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Call runs fn unless the circuit is open, and records its outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.RecordResult(err == nil)
	return err
}

// Allow reports whether a request may proceed right now. Callers that use
// Allow directly must report the outcome with RecordResult.
func (cb *CircuitBreaker) Allow() bool {
	return cb.allowRequest()
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	var changed bool
	var from CircuitState
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.cfg.Clock.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
			from, changed = cb.state, true
			cb.state = StateHalfOpen
			cb.successCount = 0
			cb.inFlightProbe = 1
			allowed = true
		}
	case StateHalfOpen:
		if cb.inFlightProbe < cb.cfg.HalfOpenMax {
			cb.inFlightProbe++
			allowed = true
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to)
	}
	return allowed
}

// RecordResult records the outcome of a request that was allowed through.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	from := cb.state
	cb.requests++
	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.inFlightProbe = 0
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.MaxFailures {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Clock.Now()
	cb.successCount = 0
	cb.inFlightProbe = 0
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns lifetime request and failure counts.
func (cb *CircuitBreaker) Stats() (requests, failures int64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.requests, cb.failures
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.inFlightProbe = 0
	cb.requests = 0
	cb.failures = 0
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
