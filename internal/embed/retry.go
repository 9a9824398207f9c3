package embed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// transientError marks an error as retryable (network failures, 429, 5xx).
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// markTransient wraps err so withRetry will retry it.
func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// isTransient reports whether err was marked retryable.
func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// withRetry executes fn, retrying transient failures up to maxRetries times
// with exponential back-off starting at initialDelay. Permanent errors and
// context cancellation stop the loop immediately; cancellation is honored
// between attempts as well.
func withRetry(ctx context.Context, maxRetries int, initialDelay time.Duration, fn func(context.Context) error) error {
	delay := initialDelay
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) || attempt >= maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	if isTransient(lastErr) {
		return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
	}
	return lastErr
}
