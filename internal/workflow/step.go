// Package workflow provides the durable orchestration primitives the saga
// layer is built on: named retryable steps with a backoff policy, and an
// engine that runs registered workflows addressable by a stable ID, with
// out-of-band signal delivery into suspended instances.
package workflow

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/moltnet/diaryd/internal/logging"
)

// Default policy values applied when a retryable step leaves them unset.
const (
	DefaultMaxAttempts = 3
	DefaultInterval    = 1 * time.Second
	DefaultBackoffRate = 2.0
)

// StepPolicy configures how a step behaves under failure. Steps are the unit
// of retry: they must be idempotent or safe to repeat, because a retry may
// re-run a step whose side effect partially succeeded before a crash.
type StepPolicy struct {
	// Name identifies the step in logs.
	Name string
	// RetriesAllowed gates retrying entirely. When false a single failure
	// propagates immediately (used for user-input validation, where
	// retrying is meaningless).
	RetriesAllowed bool
	// MaxAttempts is the total number of invocations, first attempt included.
	MaxAttempts int
	// Interval is the delay before the first retry.
	Interval time.Duration
	// BackoffRate multiplies the delay after each attempt:
	// Interval * BackoffRate^(attempt-1).
	BackoffRate float64
}

func (p StepPolicy) withDefaults() StepPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.BackoffRate <= 0 {
		p.BackoffRate = DefaultBackoffRate
	}
	return p
}

// backoff returns a retry.Backoff producing Interval * BackoffRate^(n) delays
// and stopping after MaxAttempts-1 retries.
func (p StepPolicy) backoff() retry.Backoff {
	delay := p.Interval
	remaining := p.MaxAttempts - 1
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if remaining <= 0 {
			return 0, true
		}
		remaining--
		next := delay
		delay = time.Duration(float64(delay) * p.BackoffRate)
		return next, false
	})
}

// Step wraps fn as a named, independently retryable step. Retryable failures
// are re-attempted per the policy; after exhaustion the last error returned
// by fn propagates unchanged, so errors.Is matching still works for callers.
func Step[T any](fn func(ctx context.Context) (T, error), policy StepPolicy, logger logging.Logger) func(ctx context.Context) (T, error) {
	policy = policy.withDefaults()

	return func(ctx context.Context) (T, error) {
		var result T

		if !policy.RetriesAllowed {
			var err error
			result, err = fn(ctx)
			return result, err
		}

		attempt := 0
		err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
			attempt++
			var stepErr error
			result, stepErr = fn(ctx)
			if stepErr != nil {
				if logger != nil {
					logger.Warn(ctx, "step attempt failed",
						"step", policy.Name, "attempt", attempt, "error", stepErr.Error())
				}
				return retry.RetryableError(stepErr)
			}
			return nil
		})
		return result, err
	}
}

// RunStep wraps a result-less function as a step. Shorthand for the common
// "call a collaborator, keep nothing" case.
func RunStep(fn func(ctx context.Context) error, policy StepPolicy, logger logging.Logger) func(ctx context.Context) error {
	wrapped := Step(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, policy, logger)
	return func(ctx context.Context) error {
		_, err := wrapped(ctx)
		return err
	}
}
