package util

import (
	"context"
	"errors"
	"time"
)

// RetryWithBackoff calls fn up to maxTries times, doubling the pause after
// each failure starting at initial. It stops early when ctx is done or fn
// itself reports a context error. Returns the last error if all attempts fail.
func RetryWithBackoff[T any](ctx context.Context, maxTries int, initial time.Duration, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var zero T
	var lastErr error
	delay := initial
	for attempt := 1; attempt <= maxTries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		if attempt == maxTries {
			break
		}

		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
