package resilience

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
)

// RetryStrategy selects how inter-attempt delays grow.
type RetryStrategy string

const (
	StrategyExponential RetryStrategy = "exponential" // base * 2^n
	StrategyLinear      RetryStrategy = "linear"      // base * (n+1)
	StrategyConstant    RetryStrategy = "constant"    // base
)

// RetryPolicy configures RetryWithBackoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Strategy   RetryStrategy
	// Jitter adds 0-25% of the computed delay. On by default via DefaultRetryPolicy.
	Jitter bool
	// RetryOn decides whether an error is retryable. Nil retries everything.
	RetryOn func(error) bool
	// OnRetry is called before each sleep with the attempt index and delay.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy is 3 retries, exponential 1s/2s/4s capped at 60s, jittered.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
		Strategy:   StrategyExponential,
		Jitter:     true,
	}
}

var (
	retryRngMu sync.Mutex
	retryRng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// CalculateDelay computes the delay before retry attempt n (0-indexed).
func CalculateDelay(attempt int, policy RetryPolicy) time.Duration {
	var delay time.Duration
	switch policy.Strategy {
	case StrategyLinear:
		delay = policy.BaseDelay * time.Duration(attempt+1)
	case StrategyConstant:
		delay = policy.BaseDelay
	default:
		delay = time.Duration(float64(policy.BaseDelay) * math.Pow(2, float64(attempt)))
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}

	if policy.Jitter && delay > 0 {
		retryRngMu.Lock()
		jitter := time.Duration(retryRng.Int63n(int64(delay)/4 + 1))
		retryRngMu.Unlock()
		delay += jitter
	}
	return delay
}

// RetryWithBackoff runs fn until it succeeds, the retry budget is exhausted,
// a non-retryable error occurs, or ctx is cancelled. Cancellation is observed
// between attempts. Exhaustion returns MAX_RETRIES_EXCEEDED wrapping the last error.
func RetryWithBackoff(ctx context.Context, name string, policy RetryPolicy, fn func(context.Context) error) error {
	log := logger.Component("retry").With().Str("operation", name).Logger()

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info().Int("retries", attempt).Msg("operation succeeded after retries")
			}
			return nil
		}
		lastErr = err

		if policy.RetryOn != nil && !policy.RetryOn(err) {
			return err
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := CalculateDelay(attempt, policy)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max", policy.MaxRetries+1).
			Dur("delay", delay).
			Msg("operation failed, retrying")

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return errors.New(errors.CodeMaxRetriesExceeded, "resilience",
		"max retries exceeded for "+name, lastErr)
}
