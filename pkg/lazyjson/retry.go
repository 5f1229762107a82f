package lazyjson

import (
	"context"
	"errors"
	"time"
)

// Retry schedule for transient backend I/O failures.
const (
	retryBase     = time.Second
	retryFactor   = 2
	retryCap      = 60 * time.Second
	retryAttempts = 6
)

// withRetry runs op with exponential backoff (1s base, factor 2, 60s cap,
// 6 attempts). Permanent conditions (missing keys, read-only backends,
// corrupt records, cancelled contexts) are returned immediately.
func withRetry(ctx context.Context, op func() error) error {
	delay := retryBase

	var err error

	for attempt := range retryAttempts {
		err = op()
		if err == nil || !retryable(err) {
			return err
		}

		if attempt == retryAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= retryFactor
		if delay > retryCap {
			delay = retryCap
		}
	}

	return err
}

// retryable reports whether an error is worth another attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrMissing),
		errors.Is(err, ErrReadOnlyBackend),
		errors.Is(err, ErrCorruptRecord),
		errors.Is(err, ErrNotSupported),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
