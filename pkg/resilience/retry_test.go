package resilience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

func TestCalculateDelay_ExponentialMonotonic(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 60 * time.Second, Strategy: StrategyExponential}
	prev := time.Duration(0)
	for attempt := 0; attempt < 8; attempt++ {
		delay := CalculateDelay(attempt, policy)
		assert.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, policy.MaxDelay)
		prev = delay
	}
}

func TestCalculateDelay_Strategies(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		strategy RetryStrategy
		attempt  int
		want     time.Duration
	}{
		{StrategyExponential, 0, base},
		{StrategyExponential, 2, 4 * base},
		{StrategyLinear, 0, base},
		{StrategyLinear, 2, 3 * base},
		{StrategyConstant, 5, base},
	}
	for _, tt := range tests {
		got := CalculateDelay(tt.attempt, RetryPolicy{BaseDelay: base, MaxDelay: time.Minute, Strategy: tt.strategy})
		assert.Equal(t, tt.want, got, "%s attempt %d", tt.strategy, tt.attempt)
	}
}

func TestCalculateDelay_JitterBounded(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Strategy: StrategyExponential, Jitter: true}
	for i := 0; i < 50; i++ {
		delay := CalculateDelay(1, policy)
		assert.GreaterOrEqual(t, delay, 2*time.Second)
		assert.LessOrEqual(t, delay, 2*time.Second+500*time.Millisecond)
	}
}

func TestCalculateDelay_CappedAtMax(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Strategy: StrategyExponential}
	assert.Equal(t, 3*time.Second, CalculateDelay(10, policy))
}

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), "flaky", RetryPolicy{
		MaxRetries: 3, BaseDelay: time.Millisecond, Strategy: StrategyConstant,
	}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_ExhaustionWrapsLastError(t *testing.T) {
	last := fmt.Errorf("persistent failure")
	err := RetryWithBackoff(context.Background(), "doomed", RetryPolicy{
		MaxRetries: 2, BaseDelay: time.Millisecond, Strategy: StrategyConstant,
	}, func(context.Context) error { return last })

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeMaxRetriesExceeded))
	assert.ErrorIs(t, err, last)
}

func TestRetryWithBackoff_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	fatal := fmt.Errorf("fatal")
	err := RetryWithBackoff(context.Background(), "fatal", RetryPolicy{
		MaxRetries: 5, BaseDelay: time.Millisecond, Strategy: StrategyConstant,
		RetryOn: func(err error) bool { return false },
	}, func(context.Context) error {
		attempts++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_ObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := RetryWithBackoff(ctx, "cancelled", RetryPolicy{
		MaxRetries: 100, BaseDelay: 50 * time.Millisecond, Strategy: StrategyConstant,
	}, func(context.Context) error {
		attempts++
		return fmt.Errorf("keep retrying")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 5)
}
