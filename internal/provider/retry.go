package provider

import (
	"context"
	"time"
)

// MaxRetries is the maximum number of retry attempts for transient failures.
const MaxRetries = 3

// BaseRetryDelay is the default initial delay for exponential backoff.
const BaseRetryDelay = 1 * time.Second

// BackoffDelay returns the exponential backoff delay for the given attempt
// number starting from base. With the default base: 1s, 2s, 4s
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// SleepWithContext waits for the specified duration or until the context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
