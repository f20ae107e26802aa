/**
 * @description
 * Retry policy for transient provider failures. Wraps recipient creation,
 * quote/transfer creation and funding calls with exponential backoff:
 * delay(n) = min(initialDelay * multiplier^(n-1), maxDelay). After the final
 * attempt the last error is returned unchanged so the caller sees the
 * original failure, not a retry wrapper.
 */

package app

import (
	"context"
	"log"
	"math"
	"time"
)

// RetryPolicy controls how transient provider failures are retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns the standard policy: 3 attempts, 1s initial
// delay doubling per attempt, capped at 10s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
	}
}

// Delay computes the backoff before the given 1-based retry attempt.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if capped := float64(p.MaxDelay); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. Fatal errors
// short-circuit immediately; a cancelled context aborts the wait.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt)
		log.Printf("level=warn component=retry op=%s attempt=%d max_attempts=%d delay=%s err=%v", op, attempt, maxAttempts, delay, lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
