package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return errors.New("persistent")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts, "initial call plus two retries")
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := fastRetryConfig()
	cfg.InitialDelay = 200 * time.Millisecond

	start := time.Now()
	err := Retry(ctx, cfg, func() error {
		time.Sleep(100 * time.Millisecond)
		return errors.New("slow failure")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetry_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	cfg := RetryConfig{
		MaxRetries:   10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	err := Retry(ctx, cfg, func() error { return errors.New("always") })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	var timestamps []time.Time
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	attempts := 0
	_ = Retry(context.Background(), cfg, func() error {
		timestamps = append(timestamps, time.Now())
		attempts++
		if attempts < 4 {
			return errors.New("transient")
		}
		return nil
	})

	require.Len(t, timestamps, 4)
	assert.InDelta(t, 20, timestamps[1].Sub(timestamps[0]).Milliseconds(), 15)
	assert.InDelta(t, 40, timestamps[2].Sub(timestamps[1]).Milliseconds(), 20)
	assert.InDelta(t, 80, timestamps[3].Sub(timestamps[2]).Milliseconds(), 40)
}

func TestRetry_CapsAtMaxDelay(t *testing.T) {
	var timestamps []time.Time
	cfg := RetryConfig{
		MaxRetries:   10,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     30 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	_ = Retry(context.Background(), cfg, func() error {
		timestamps = append(timestamps, time.Now())
		attempts++
		if attempts < 5 {
			return errors.New("transient")
		}
		return nil
	})

	for i := 2; i < len(timestamps); i++ {
		assert.LessOrEqual(t, timestamps[i].Sub(timestamps[i-1]).Milliseconds(), int64(50))
	}
}

func TestRetry_JitterStaysInRange(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	for i := 0; i < 3; i++ {
		var timestamps []time.Time
		attempts := 0
		_ = Retry(context.Background(), cfg, func() error {
			timestamps = append(timestamps, time.Now())
			attempts++
			if attempts < 2 {
				return errors.New("transient")
			}
			return nil
		})
		require.Len(t, timestamps, 2)
		delay := timestamps[1].Sub(timestamps[0])
		assert.GreaterOrEqual(t, delay.Milliseconds(), int64(25))
		assert.LessOrEqual(t, delay.Milliseconds(), int64(100))
	}
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRetryWithResult_ReturnsZeroOnFailure(t *testing.T) {
	result, err := RetryWithResult(context.Background(), fastRetryConfig(), func() (string, error) {
		return "partial", errors.New("always")
	})

	assert.Error(t, err)
	assert.Equal(t, "", result, "a failed retry must not leak a partial result")
}

func TestRetry_PermanentErrorShortCircuits(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return New(ErrCodeDimensionMismatch, "dims disagree", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable errors must not burn attempts")
	assert.Equal(t, ErrCodeDimensionMismatch, GetCode(err))
}

func TestRetryWithResult_PermanentErrorShortCircuits(t *testing.T) {
	attempts := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(), func() (int, error) {
		attempts++
		return 0, ValidationError("bad input", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeInvalidInput, GetCode(err))
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialDelay)
	assert.Equal(t, 16*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.False(t, cfg.Jitter)
}
