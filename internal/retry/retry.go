// Package retry implements the bounded retry-with-exponential-backoff
// executor that wraps every provider call made by the entity adapters.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/acctsync/internal/syncerr"
)

// Default policy values, used when a Policy field is zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
)

// Policy bounds one retry loop. MaxAttempts is the total number of calls to
// the operation; BaseDelay is doubled after every retryable failure.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// OnRetry is invoked before sleeping ahead of a retry. attempt is 1-based and
// names the attempt that just failed.
type OnRetry func(attempt int, err error)

// Executor runs operations under a Policy. The zero value is not usable;
// construct with New.
type Executor struct {
	logger *slog.Logger

	// sleepFunc waits between attempts. Tests replace it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates an Executor that sleeps with the real clock.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{logger: logger, sleepFunc: timeSleep}
}

// WithSleep returns a copy of the executor that uses sleep between attempts.
func (e *Executor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Executor {
	cp := *e
	cp.sleepFunc = sleep

	return &cp
}

// Backoff returns the delay before the retry that follows the given 0-based
// attempt: base * 2^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Cap the shift so large attempt counts saturate instead of overflowing.
	const maxShift = 30
	if attempt > maxShift {
		attempt = maxShift
	}

	return base * time.Duration(1<<attempt)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy's attempt budget is exhausted. Attempts are strictly sequential.
// The caller is responsible for op being idempotent.
func Do[T any](ctx context.Context, e *Executor, p Policy, op func(ctx context.Context) (T, error), onRetry OnRetry) (T, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !syncerr.Retryable(err) {
			return zero, err
		}

		if attempt == maxAttempts-1 {
			break
		}

		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		delay := Backoff(base, attempt)
		e.logger.Warn("retrying after transient failure",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if sleepErr := e.sleepFunc(ctx, delay); sleepErr != nil {
			return zero, syncerr.New(syncerr.KindConnectivity, "retry",
				fmt.Errorf("canceled while backing off: %w", sleepErr))
		}
	}

	e.logger.Error("retry budget exhausted",
		slog.Int("attempts", maxAttempts),
		slog.String("error", lastErr.Error()),
	)

	return zero, &syncerr.Error{
		Kind:     syncerr.KindMaxRetriesExceeded,
		Op:       "retry",
		Attempts: maxAttempts,
		Err:      lastErr,
	}
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
