// Package retry provides a bounded retry-with-backoff executor parameterized
// by the failure classifier. Non-retryable failures short-circuit; on
// exhaustion the original error is returned, never a wrapper.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/weldcode/weld/pkg/failure"
)

// Options controls a retry loop.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the backoff base: the sleep before attempt n+1 is
	// BaseDelay * 2^(n-1) plus jitter.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Zero means one minute.
	MaxDelay time.Duration

	// AttemptTimeout, when positive, bounds each individual attempt with
	// a derived context deadline, independent of the retry budget.
	AttemptTimeout time.Duration

	// OnRetry is an optional observer invoked before each sleep with the
	// attempt number (1-based) and the classified failure. It must not
	// affect control flow.
	OnRetry func(attempt int, f *failure.Failure)
}

// FastBudget is the budget for sandbox reconnection: fail fast so the
// caller can fall back to recreation.
func FastBudget() Options {
	return Options{MaxAttempts: 2, BaseDelay: time.Second}
}

// SchemaBudget is the budget for schema execution: three attempts with a
// hard 30-second cap per attempt so a hung remote call cannot block the
// pipeline indefinitely.
func SchemaBudget() Options {
	return Options{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Do runs op until it succeeds, fails with a non-retryable classification,
// or the attempt budget is exhausted. The error returned is always the
// last error produced by op itself.
func Do(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := DoValue(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T

	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		}

		value, err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return value, nil
		}
		lastErr = err

		classified := failure.Classify(err)
		if !classified.Retryable || attempt == attempts {
			break
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, classified)
		}

		select {
		case <-time.After(backoff(attempt, opts)):
		case <-ctx.Done():
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// backoff computes the sleep before the next attempt: exponential in the
// attempt number with random jitter, so concurrent callers hammering the
// same endpoint do not retry in lockstep.
func backoff(attempt int, opts Options) time.Duration {
	base := opts.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > maxDelay {
		delay = maxDelay
	}

	// Up to 25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
