// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package steptrace

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Default retry policy values.
const (
	DefaultMaxAttempts  = 30
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 60 * time.Second
)

type retryOptions struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// RetryOption configures the retry policy of [Step.Retry].
type RetryOption func(*retryOptions)

// MaxAttempts bounds the total number of attempts, including the first.
func MaxAttempts(n int) RetryOption {
	return func(ro *retryOptions) {
		if n < 1 {
			return
		}
		ro.maxAttempts = n
	}
}

// InitialDelay sets the delay before the second attempt. The delay
// doubles after every failed attempt.
func InitialDelay(d time.Duration) RetryOption {
	return func(ro *retryOptions) {
		if d <= 0 {
			return
		}
		ro.initialDelay = d
	}
}

// MaxDelay caps the exponentially growing delay between attempts.
func MaxDelay(d time.Duration) RetryOption {
	return func(ro *retryOptions) {
		if d <= 0 {
			return
		}
		ro.maxDelay = d
	}
}

// Retry runs op with exponential backoff until it succeeds, the attempt
// budget is exhausted or ctx is cancelled. The entire attempt sequence is
// recorded as a single span named name; individual attempts do not get
// their own spans, which bounds telemetry volume for flaky operations
// while still surfacing the total retry cost as one span duration. Only
// the aggregate outcome determines the span status.
func (s *Step) Retry(ctx context.Context, name string, op func(context.Context) error, opts ...RetryOption) error {
	ro := &retryOptions{
		maxAttempts:  DefaultMaxAttempts,
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(ro)
	}

	return s.Trace(name, func() error {
		delay := ro.initialDelay
		for attempt := 1; ; attempt++ {
			err := op(ctx)
			if err == nil {
				return nil
			}
			if attempt >= ro.maxAttempts {
				return err
			}

			s.tracer.log.Debug("operation failed, retrying",
				zap.String("name", name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(err, ctx.Err())
			}

			delay *= 2
			if delay > ro.maxDelay {
				delay = ro.maxDelay
			}
		}
	})
}
