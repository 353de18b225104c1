package resilience

import (
	"context"
	"log/slog"
	"time"

	"shopassist/internal/infra/logger"
)

// RetryPolicy bounds the attempts made by Call.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts. Defaults to 3.
	MaxRetries int
	// BaseDelay is the wait after the first failed attempt; it doubles after each
	// subsequent failure. Defaults to 1s.
	BaseDelay time.Duration
	Logger    *slog.Logger
}

// DefaultRetryPolicy is three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	p.Logger = logger.OrDiscard(p.Logger)
	return p
}

// Backoff returns the wait after failed attempt number attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay << attempt
}

// Call runs op under cb with bounded retries and never returns an error:
//   - an open breaker skips op and returns fallback() immediately;
//   - a success records it on cb and returns op's result;
//   - when every attempt failed, the failure is recorded on cb and fallback()
//     is returned.
//
// fallback must be total. Context cancellation while backing off ends the
// retries early and is treated like exhausting them.
func Call[T any](ctx context.Context, p RetryPolicy, cb *CircuitBreaker, op func(context.Context) (T, error), fallback func(context.Context) T) T {
	p = p.normalized()

	if cb != nil && cb.IsOpen() {
		p.Logger.Debug("circuit open, using fallback", "breaker", cb.Name())
		return fallback(ctx)
	}

	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if cb != nil {
				cb.RecordSuccess()
			}
			return result
		}

		p.Logger.Warn("protected call failed",
			"breaker", breakerName(cb),
			"attempt", attempt+1,
			"max_attempts", p.MaxRetries,
			"error", err,
		)

		if attempt == p.MaxRetries-1 {
			break
		}
		if !sleep(ctx, p.Backoff(attempt)) {
			p.Logger.Debug("retry aborted by context", "breaker", breakerName(cb), "error", ctx.Err())
			break
		}
	}

	if cb != nil {
		cb.RecordFailure()
	}
	return fallback(ctx)
}

func breakerName(cb *CircuitBreaker) string {
	if cb == nil {
		return ""
	}
	return cb.Name()
}

// sleep waits d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
