// Package resilience provides the circuit breaker, retry, bulkhead and
// timeout primitives used by every outbound dependency of the engine.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
)

// CircuitState is the breaker state machine position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerConfig tunes one named circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

var (
	defaultBreakerMu     sync.RWMutex
	defaultBreakerConfig = BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second}
)

// DefaultBreakerConfig returns the process-wide defaults (5 failures / 60s
// unless overridden at startup).
func DefaultBreakerConfig() BreakerConfig {
	defaultBreakerMu.RLock()
	defer defaultBreakerMu.RUnlock()
	return defaultBreakerConfig
}

// SetDefaultBreakerConfig overrides the process-wide breaker defaults.
// Called once at startup from configuration; breakers already created keep
// their config.
func SetDefaultBreakerConfig(config BreakerConfig) {
	defaultBreakerMu.Lock()
	defer defaultBreakerMu.Unlock()
	if config.FailureThreshold > 0 {
		defaultBreakerConfig.FailureThreshold = config.FailureThreshold
	}
	if config.RecoveryTimeout > 0 {
		defaultBreakerConfig.RecoveryTimeout = config.RecoveryTimeout
	}
}

// CircuitBreaker stops calling a failing dependency for a cooldown period.
// Closed passes calls through, open rejects immediately, half-open admits a
// single probe whose outcome decides the next state.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger zerolog.Logger

	mu            sync.Mutex
	state         CircuitState
	failures      int
	lastFailure   time.Time
	probeInFlight bool
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger.Component("circuit_breaker").With().Str("breaker", name).Logger(),
		state:  CircuitClosed,
	}
}

// Execute runs fn through the breaker. When the breaker is open it fails
// immediately with CIRCUIT_OPEN without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	cb.record(probe, callErr)
	return callErr
}

// acquire decides whether a call may proceed and whether it is the half-open probe.
func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if time.Since(cb.lastFailure) < cb.config.RecoveryTimeout {
			return false, errors.Newf(errors.CodeCircuitOpen, "resilience",
				"circuit breaker %q is open (%d consecutive failures)", cb.name, cb.failures)
		}
		cb.state = CircuitHalfOpen
		cb.probeInFlight = true
		cb.logger.Info().Msg("circuit breaker transitioning to half-open")
		return true, nil
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false, errors.Newf(errors.CodeCircuitOpen, "resilience",
				"circuit breaker %q is half-open with a probe in flight", cb.name)
		}
		cb.probeInFlight = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, callErr error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probeInFlight = false
	}

	if callErr == nil {
		if cb.state == CircuitHalfOpen {
			cb.logger.Info().Msg("circuit breaker recovered, closing")
			cb.state = CircuitClosed
		}
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == CircuitHalfOpen {
		cb.logger.Warn().Msg("half-open probe failed, reopening")
		cb.state = CircuitOpen
		return
	}
	if cb.failures >= cb.config.FailureThreshold && cb.state != CircuitOpen {
		cb.logger.Warn().Int("failures", cb.failures).Msg("circuit breaker opened")
		cb.state = CircuitOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive-failure counter.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset manually closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.logger.Info().Msg("circuit breaker manually reset")
	cb.state = CircuitClosed
	cb.failures = 0
	cb.lastFailure = time.Time{}
	cb.probeInFlight = false
}

// breaker registry: process-wide, keyed by name, lifetime = process lifetime.
var (
	breakersMu sync.RWMutex
	breakers   = make(map[string]*CircuitBreaker)
)

// GetCircuitBreaker returns the named breaker, creating it with config on
// first use. Later calls ignore config.
func GetCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	breakersMu.RLock()
	cb, ok := breakers[name]
	breakersMu.RUnlock()
	if ok {
		return cb
	}

	breakersMu.Lock()
	defer breakersMu.Unlock()
	if cb, ok = breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, config)
	breakers[name] = cb
	return cb
}
