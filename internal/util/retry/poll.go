package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExhausted is returned by Poll when the attempt bound is reached
	// before the condition holds.
	ErrExhausted = errors.New("poll attempts exhausted")

	// ErrTimeout is returned by Poll when the wall-clock ceiling elapses
	// before the condition holds.
	ErrTimeout = errors.New("poll timed out")
)

// PollConfig bounds a polling loop.
type PollConfig struct {
	// Interval is the fixed delay between two evaluations.
	Interval time.Duration
	// MaxAttempts caps the number of evaluations. Zero means unbounded
	// (Timeout must then be set).
	MaxAttempts int
	// Timeout caps the total wall-clock time. Zero means unbounded
	// (MaxAttempts must then be set).
	Timeout time.Duration
}

// Condition reports whether the awaited state has been reached.
// A non-fatal error counts as "not yet" and is remembered as the last error.
type Condition func(ctx context.Context) (bool, error)

// Poll evaluates cond until it returns true, a Fatal error, or one of the bounds
// in cfg is hit. The first evaluation happens immediately.
//
// Cancellation of the parent context is reported as the context error; hitting
// the Timeout ceiling is reported as ErrTimeout and exhausting MaxAttempts as
// ErrExhausted. Both carry the last condition error, if any.
func Poll(ctx context.Context, cfg PollConfig, cond Condition) error {
	if cfg.MaxAttempts <= 0 && cfg.Timeout <= 0 {
		return Fatal(errors.New("poll requires MaxAttempts or Timeout"))
	}

	pollCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		done, err := cond(pollCtx)
		if err != nil {
			if IsFatal(err) {
				return err
			}
			lastErr = err
		} else if done {
			return nil
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return withLast(fmt.Errorf("%w after %d attempts", ErrExhausted, attempt), lastErr)
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return fmt.Errorf("poll cancelled after %d attempts: %w", attempt, ctx.Err())
			}
			return withLast(fmt.Errorf("%w after %v (%d attempts)", ErrTimeout, cfg.Timeout, attempt), lastErr)
		case <-time.After(cfg.Interval):
		}
	}
}

func withLast(err, last error) error {
	if last == nil {
		return err
	}
	return fmt.Errorf("%w: last error: %w", err, last)
}
