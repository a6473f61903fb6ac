// Package retry provides exponential-backoff retry for outbound LLM calls.
// Only transient failures retry; cancellation is passed through untouched.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/servo-ai/servo/pkg/llms"
)

// Policy defines the backoff schedule.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter is the symmetric randomization factor. The default ±25% keeps
	// synchronized clients from retrying in lockstep.
	Jitter float64
}

// DefaultPolicy returns the standard outbound-call policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.25
	}
	return p
}

// Delay computes the backoff before the given retry (attempt is 1-indexed).
// randomValue in [0,1) supplies the jitter; pass rand.Float64() in production.
func (p Policy) Delay(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, exp)

	// Symmetric jitter: base * (1 ± Jitter)
	factor := 1 + p.Jitter*(2*randomValue-1)
	total := math.Min(float64(p.MaxDelay), base*factor)
	return time.Duration(total)
}

// Do runs fn until it succeeds, fails non-transiently, or exhausts attempts.
// A Retry-After carried by the provider error overrides the computed delay.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	policy = policy.withDefaults()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if llms.IsCancellation(err) || !llms.IsTransient(err) {
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt, rand.Float64())
		var pe *llms.ProviderError
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			delay = pe.RetryAfter
		}

		slog.Debug("Retrying after transient failure",
			"attempt", attempt, "delay", delay, "error", err)

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
