package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/penshort/shortlinker/internal/apperr"
)

// RetryConfig controls the exponential backoff applied to transient
// storage failures (connection resets, pool exhaustion).
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig is 3 retries, 100ms base, 5s ceiling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// withRetry runs op, retrying on transient errors with jittered exponential
// backoff. Logical errors (not-found, unique violation, bad input) are not
// retryable and return on the first attempt.
func withRetry(ctx context.Context, cfg RetryConfig, op string, fn func(context.Context) error) error {
	var lastErr error
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := backoff(cfg, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// backoff computes base * 2^attempt capped at MaxDelay, plus up to 25%
// jitter.
func backoff(cfg RetryConfig, attempt int) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := cfg.MaxDelay
	if max <= 0 {
		max = 5 * time.Second
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > max {
			delay = max
			break
		}
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	total := delay + jitter
	if total > max {
		total = max
	}
	return total
}

// isRetryable reports whether err represents a transient condition worth
// retrying: connection-class Postgres errors, pool timeouts, or a
// StorageTransient wrap already applied by a nested call.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "08000", "08003", "08006", "08001", "08004", "53300", "57P01", "57P02", "57P03":
			return true
		default:
			return false
		}
	}
	return apperr.CodeOf(err) == apperr.StorageTransient || isTimeoutOrPoolErr(err)
}
