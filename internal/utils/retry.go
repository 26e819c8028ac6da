package utils

import (
	"fmt"
	"time"

	"alert-service/internal/logging"
)

// Retry runs fn up to maxAttempts times, sleeping delay between failures.
func Retry(logger *logging.Logger, maxAttempts int, delay time.Duration, fn func() error) error {
	return RetryIf(logger, maxAttempts, delay, func(error) bool { return true }, fn)
}

// RetryIf is Retry restricted to errors for which retryable returns true.
// Other errors are returned immediately, unwrapped.
func RetryIf(logger *logging.Logger, maxAttempts int, delay time.Duration, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		logger.Errorf("Attempt %d/%d failed: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts && delay > 0 {
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
