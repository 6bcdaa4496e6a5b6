package base

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ajitpratap0/tap-outbrain/pkg/clients"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
)

// RetryAfterDetail is the error detail key carrying a server-requested delay
const RetryAfterDetail = "retry_after"

// MinRetryDelay is the shortest wait between attempts, whatever the
// configured delay
const MinRetryDelay = 15 * time.Second

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MinDelay        time.Duration
	RandomizeFactor float64

	// Sleep waits between attempts; nil uses clients.Sleep
	Sleep clients.SleepFunc
	// OnRetry is called before each wait
	OnRetry func(attempt int, delay time.Duration, err error)
}

// ConstantRetryPolicy waits roughly delay between attempts, never less than
// half of it nor less than MinRetryDelay. This is the backoff the Outbrain
// API expects.
func ConstantRetryPolicy(maxAttempts int, delay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    delay,
		MinDelay:        max(delay/2, MinRetryDelay),
		RandomizeFactor: 0.25,
	}
}

// Execute runs fn, retrying errors that errors.IsRetryable accepts
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}

// ExecuteWithCondition runs a function with retry only if condition is met.
// Errors rejected by shouldRetry are returned unchanged; a retryable error
// on the final attempt is wrapped as ErrorTypeRetryExhausted.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := rp.Sleep
	if sleep == nil {
		sleep = clients.Sleep
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Don't retry on the last attempt
		if attempt == attempts-1 {
			break
		}

		delay := rp.delayFor(err)
		if rp.OnRetry != nil {
			rp.OnRetry(attempt+1, delay, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}

	return errors.Wrap(lastErr, errors.ErrorTypeRetryExhausted,
		fmt.Sprintf("all %d attempts failed", attempts))
}

// delayFor returns the wait before the next attempt, honouring a larger
// server-requested delay attached to err.
func (rp *RetryPolicy) delayFor(err error) time.Duration {
	delay := rp.calculateDelay()
	if hint, ok := errors.DetailsOf(err)[RetryAfterDetail].(time.Duration); ok && hint > delay {
		delay = hint
	}
	return delay
}

// calculateDelay returns the jittered delay, clamped to MinDelay
func (rp *RetryPolicy) calculateDelay() time.Duration {
	delay := float64(rp.InitialDelay)

	// Apply randomization factor (jitter)
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta //nolint:gosec // jitter only
	}

	if delay < float64(rp.MinDelay) {
		delay = float64(rp.MinDelay)
	}

	return time.Duration(delay)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	clone := *rp
	return &clone
}

// WithSleep returns a new policy using sleep between attempts
func (rp *RetryPolicy) WithSleep(sleep clients.SleepFunc) *RetryPolicy {
	policy := rp.Clone()
	policy.Sleep = sleep
	return policy
}

// NoRetryPolicy returns a policy that doesn't retry
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 1,
	}
}
