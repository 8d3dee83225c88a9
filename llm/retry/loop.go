package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/rs/zerolog"
)

// Backoff gates attempts against a model. Controller implements it.
type Backoff interface {
	WaitTime(model string) time.Duration
	RecordFailure(model string)
	RecordSuccess(model string)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Loop retries the establishment of a request with per-model backoff.
type Loop struct {
	backoff    Backoff
	maxRetries int
	sleep      SleepFunc
	logger     zerolog.Logger
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep SleepFunc) LoopOption {
	return func(l *Loop) {
		l.sleep = sleep
	}
}

// NewLoop creates a Loop making at most maxRetries+1 attempts per call.
func NewLoop(b Backoff, maxRetries int, logger zerolog.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		backoff:    b,
		maxRetries: max(0, maxRetries),
		sleep:      WaitForRetry,
		logger:     logger.With().Str("component", "retryLoop").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxRetries returns the number of retries after the first attempt.
func (l *Loop) MaxRetries() int {
	return l.maxRetries
}

// Establish runs op until it succeeds or attempts run out. Before each attempt
// it waits for the model's backoff. A success resets the backoff and returns the
// result. A retryable failure grows the backoff and tries again; the last
// failure is returned unchanged once attempts are exhausted. Non-retryable
// failures and context cancellation return immediately.
//
// op must be safe to call more than once. Only establishment is retried:
// whatever op returns is handed to the caller as-is.
func Establish[T any](ctx context.Context, l *Loop, model string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := l.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if wait := l.backoff.WaitTime(model); wait > 0 {
			l.logger.Info().
				Str("model", model).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Waiting for backoff before attempt")
			if err := l.sleep(ctx, wait); err != nil {
				return zero, fmt.Errorf("context cancelled while waiting to retry %s: %w", model, err)
			}
		}

		result, err := op(ctx)
		if err == nil {
			l.backoff.RecordSuccess(model)
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, err
		}
		if !llm.IsRetryableError(err) {
			l.logger.Warn().Str("model", model).Int("attempt", attempt).Err(err).Msg("Request failed with a non-retryable error")
			return zero, err
		}

		l.backoff.RecordFailure(model)
		if attempt < attempts {
			l.logger.Warn().
				Str("model", model).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Err(err).
				Msg("Request failed. Retrying after backoff")
		}
	}

	l.logger.Error().Str("model", model).Int("attempts", attempts).Err(lastErr).Msg("Retries exhausted")
	return zero, lastErr
}

// WaitForRetry waits for the specified delay, respecting context cancellation.
func WaitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
