package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fueltek/workorder-api/pkg/logger"
)

// RetryableFunc is an operation that can be attempted repeatedly.
type RetryableFunc func() error

// Config holds the retry policy for an operation.
type Config struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	// RetryableErrors limits which errors are retried. Empty means
	// retry everything.
	RetryableErrors []error
}

// Do runs fn up to MaxAttempts times, waiting per the backoff strategy
// between attempts. A context cancellation aborts immediately.
func Do(ctx context.Context, fn RetryableFunc, cfg *Config) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		if !isRetryable(err, cfg.RetryableErrors) {
			cfg.Logger.Warn("Non-retryable error, giving up",
				"error", err,
				"attempt", attempt)
			return err
		}

		backoff := cfg.BackoffStrategy.NextBackoff(attempt)
		cfg.Logger.Debug("Retrying after error",
			"error", err,
			"attempt", attempt,
			"maxAttempts", cfg.MaxAttempts,
			"backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("all %d attempts failed, last error: %w", cfg.MaxAttempts, lastErr)
}

func isRetryable(err error, retryableErrors []error) bool {
	if len(retryableErrors) == 0 {
		return true
	}
	for _, re := range retryableErrors {
		if errors.Is(err, re) {
			return true
		}
	}
	return false
}
