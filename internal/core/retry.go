package core

import (
	"context"
	"time"
)

// RetryPolicy governs retry behavior for transient-error retries via Retry.
// Neither node dispatch (see the engine's failure aggregation) nor the
// retention service calls Retry.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy is a single attempt, no backoff.
var DefaultRetryPolicy = RetryPolicy{Attempts: 1, Multiplier: 1}

// Retry executes fn with the provided policy, applying backoff between
// attempts. It returns the last error, if any.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 1
	}
	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == policy.Attempts {
			return err
		}
		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			next := time.Duration(float64(backoff) * policy.Multiplier)
			if policy.MaxBackoff > 0 && next > policy.MaxBackoff {
				next = policy.MaxBackoff
			}
			backoff = next
		}
	}
	return nil
}
