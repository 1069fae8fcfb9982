// Package resilience provides retry policies, error classification and a
// circuit breaker for outbound calls to profile sources.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the reachability verdict for one source.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// ErrCircuitOpen is returned when a call is rejected because the source is
// considered unreachable.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when a source is declared unreachable.
type CircuitBreakerConfig struct {
	// Source labels state changes in the log.
	Source string
	// FailureThreshold consecutive tripping errors open the circuit. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long an open circuit waits before letting a
	// single trial through. Default: 30s.
	ResetTimeout time.Duration
	// ShouldTrip picks the errors that count. Default: IsNetworkFailure,
	// so a source answering 404 or 429 stays closed.
	ShouldTrip func(err error) bool
}

// DefaultCircuitBreakerConfig returns the defaults listed on the config fields.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// CircuitBreaker counts consecutive transport failures against one source.
// While open it rejects calls; after ResetTimeout exactly one trial call is
// admitted and its outcome closes or reopens the circuit.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
	trialing bool

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsNetworkFailure
	}
	return &CircuitBreaker{cfg: cfg, nowFunc: time.Now}
}

// Execute runs fn unless the circuit rejects the call with ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(trial, err)
	return err
}

// State reports the current state. An open circuit whose timeout has passed
// reads as half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// Open reports whether calls are currently being rejected.
func (cb *CircuitBreaker) Open() bool {
	return cb.State() == CircuitOpen
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	switch {
	case !cb.open:
		return CircuitClosed
	case cb.trialing:
		return CircuitOpen
	case cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout:
		return CircuitHalfOpen
	default:
		return CircuitOpen
	}
}

// admit decides whether a call may proceed and whether it is the trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case CircuitClosed:
		return false, nil
	case CircuitHalfOpen:
		cb.trialing = true
		cb.logState(CircuitHalfOpen)
		return true, nil
	default:
		return false, ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) settle(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialing = false
	}
	if err == nil || !cb.cfg.ShouldTrip(err) {
		cb.failures = 0
		if cb.open && trial {
			cb.open = false
			cb.logState(CircuitClosed)
		}
		return
	}

	cb.failures++
	if trial || (!cb.open && cb.failures >= cb.cfg.FailureThreshold) {
		cb.open = true
		cb.openedAt = cb.nowFunc()
		cb.logState(CircuitOpen)
	}
}

func (cb *CircuitBreaker) logState(s CircuitState) {
	zap.L().Info("circuit state changed",
		zap.String("source", cb.cfg.Source),
		zap.Stringer("state", s),
		zap.Int("consecutive_failures", cb.failures),
	)
}
