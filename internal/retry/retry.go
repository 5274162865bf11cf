// Package retry wraps fallible operations with bounded retries and backoff,
// delegating the retryable-vs-terminal decision to an injected classifier.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Policy configures bounded retry with fixed or exponential backoff.
// Delays are non-decreasing across attempts and capped at MaxDelay.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // backoff cap
	Exponential bool          // double the delay each attempt when set
	Retryable   Classifier    // nil means retry nothing
	OnRetry     func(error)   // invoked once per retry actually taken
	Logger      *zap.Logger
}

// Default returns the reference policy: 3 attempts, exponential backoff from
// 500ms capped at 5s.
func Default(logger *zap.Logger) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Exponential: true,
		Logger:      logger,
	}
}

// Do runs op until it succeeds, exhausts MaxAttempts, fails with a
// non-retryable error, or the context is cancelled. The last error is
// returned on exhaustion.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := wait(ctx, p.Delay(attempt-1)); werr != nil {
				return werr
			}
		}

		if err = op(ctx); err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt < attempts-1 {
			if p.OnRetry != nil {
				p.OnRetry(err)
			}
			if p.Logger != nil {
				p.Logger.Warn("operation failed, retrying",
					zap.Int("attempt", attempt+1),
					zap.Int("max_attempts", attempts),
					zap.Duration("backoff", p.Delay(attempt)),
					zap.Error(err))
			}
		}
	}
	return err
}

// Delay returns the backoff before the attempt following retryCount prior
// failures.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		return p.BaseDelay
	}
	if !p.Exponential {
		return p.BaseDelay
	}
	// 2^30s already exceeds any sane cap.
	if retryCount > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<retryCount)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
