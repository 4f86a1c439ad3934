package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fueltek/workorder-api/pkg/logger"
)

var errTransient = errors.New("transient")

func testConfig(maxAttempts int, retryable ...error) *Config {
	return &Config{
		MaxAttempts:     maxAttempts,
		BackoffStrategy: &ConstantBackoff{Interval: time.Millisecond},
		Logger:          logger.Nop(),
		RetryableErrors: retryable,
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, testConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errTransient
	}, testConfig(3))

	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestNonRetryableErrorStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return fatal
	}, testConfig(5, errTransient))

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func() error {
		calls++
		return errTransient
	}, testConfig(5))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
