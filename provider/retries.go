package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// WithRetries runs fn, sleeping out server-suggested rate-limit pauses
// and retrying. Any other error returns immediately. Cancelling ctx
// during a pause aborts the retry loop.
func WithRetries[R any](ctx context.Context, logger *slog.Logger, fn func() (R, error)) (R, error) {
	for {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		var rateLimitErr *ErrRateLimited
		if errors.As(err, &rateLimitErr) {
			logger.Warn("operation rate limited, sleeping", "duration", rateLimitErr.RetryAfter)
			select {
			case <-time.After(rateLimitErr.RetryAfter):
				logger.Debug("finished rate limit sleep, retrying operation")
				continue
			case <-ctx.Done():
				var zero R
				return zero, fmt.Errorf("operation cancelled during rate limit sleep: %w", ctx.Err())
			}
		}

		var zero R
		return zero, err
	}
}

// WithRetriesVoid is WithRetries for operations without a result.
func WithRetriesVoid(ctx context.Context, logger *slog.Logger, fn func() error) error {
	_, err := WithRetries(ctx, logger, func() (any, error) {
		return nil, fn()
	})
	return err
}
