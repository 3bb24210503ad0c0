package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trip(cb *CircuitBreaker, failures int) {
	for i := 0; i < failures; i++ {
		_ = cb.Execute(func() error { return errors.New("provider down") })
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("embedding", WithMaxFailures(3), WithResetTimeout(time.Second))

	trip(cb, 3)
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open circuit must not invoke the call")
}

func TestCircuitBreaker_TrialSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("embedding", WithMaxFailures(2), WithResetTimeout(50*time.Millisecond))

	trip(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	executed := false
	err := cb.Execute(func() error {
		executed = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TrialFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("chat", WithMaxFailures(2), WithResetTimeout(50*time.Millisecond))

	trip(cb, 2)
	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessClearsFailures(t *testing.T) {
	cb := NewCircuitBreaker("chat", WithMaxFailures(5), WithResetTimeout(time.Second))

	trip(cb, 3)
	require.Equal(t, 3, cb.Failures())

	err := cb.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitExecuteWithResult_OpenUsesFallback(t *testing.T) {
	cb := NewCircuitBreaker("embedding", WithMaxFailures(1), WithResetTimeout(time.Second))
	trip(cb, 1)

	fallbackCalled := false
	result, err := CircuitExecuteWithResult(cb,
		func() (string, error) { return "primary", nil },
		func() (string, error) {
			fallbackCalled = true
			return "fallback", nil
		},
	)
	assert.NoError(t, err)
	assert.True(t, fallbackCalled)
	assert.Equal(t, "fallback", result)
}

func TestCircuitExecuteWithResult_ClosedCallsPrimary(t *testing.T) {
	cb := NewCircuitBreaker("embedding")

	result, err := CircuitExecuteWithResult(cb,
		func() ([]float32, error) { return []float32{0.1, 0.2}, nil },
		func() ([]float32, error) { return nil, errors.New("unreachable") },
	)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitExecuteWithResult_FailedTrialFallsBack(t *testing.T) {
	cb := NewCircuitBreaker("chat", WithMaxFailures(1), WithResetTimeout(20*time.Millisecond))
	trip(cb, 1)
	time.Sleep(30 * time.Millisecond)

	result, err := CircuitExecuteWithResult(cb,
		func() (string, error) { return "", errors.New("still down") },
		func() (string, error) { return "fallback", nil },
	)
	assert.NoError(t, err)
	assert.Equal(t, "fallback", result)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_RecordFailureTrips(t *testing.T) {
	cb := NewCircuitBreaker("embedding", WithMaxFailures(3))

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, 2, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker("embedding", WithMaxFailures(10), WithResetTimeout(time.Second))

	var wg sync.WaitGroup
	var completed atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%2 == 0 {
					return nil
				}
				return errors.New("flaky")
			})
			completed.Add(1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), completed.Load())
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("embedding")

	assert.Equal(t, "embedding", cb.Name())
	assert.Equal(t, 5, cb.maxFailures)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
	assert.Equal(t, StateClosed, cb.State())
}
