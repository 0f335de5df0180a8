package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterRetryableError(t *testing.T) {
	// Given: a dial that fails twice with a retryable error
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return New(ErrCodeServerUnavailable, "connection refused", nil)
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: succeeds on the third attempt
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	want := errors.New("permission denied")

	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return want
	})

	assert.ErrorIs(t, err, want)
	assert.Equal(t, 1, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return New(ErrCodeServerUnavailable, "no socket", nil)
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 retries")
	assert.Equal(t, 4, attempts)
	assert.True(t, HasCode(err, ErrCodeServerUnavailable))
}

func TestRetry_RespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(), func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}
