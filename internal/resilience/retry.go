package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls retry behavior for one governed call.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry when the
	// server gave no hint. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps every wait, hinted or computed. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the computed backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter to computed delays (0.0 = none).
	// Server hints are never jittered.
	JitterFraction float64

	// Backoff optionally replaces the built-in wait computation. attempt is
	// 1-based; hint is the server-advertised wait or 0.
	Backoff func(attempt int, hint time.Duration) time.Duration

	// ShouldRetry optionally overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryPolicy returns the policy used for public API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Wait returns how long to sleep before the given retry (1-based).
func (p RetryPolicy) Wait(attempt int, hint time.Duration) time.Duration {
	p = applyDefaults(p)

	var d time.Duration
	switch {
	case p.Backoff != nil:
		d = p.Backoff(attempt, hint)
	case hint > 0:
		d = hint
	default:
		d = computeBackoff(attempt-1, p)
	}

	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Do executes fn with retry logic according to p. It retries only on
// errors deemed transient. Context cancellation stops retries immediately.
func Do(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = applyDefaults(p)

	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !shouldRetry(lastErr) {
			return zero, lastErr
		}
		// Don't sleep after the last attempt.
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.Wait(attempt, RetryAfter(lastErr))
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func applyDefaults(p RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	return p
}

func computeBackoff(attempt int, p RetryPolicy) time.Duration {
	delay := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}

	if p.JitterFraction > 0 {
		jitterRange := delay * p.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(source, operation string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		zap.L().Warn("retrying call",
			zap.String("source", source),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
