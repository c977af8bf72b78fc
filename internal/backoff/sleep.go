package backoff

import (
	"context"
	"time"
)

// SleepContext sleeps for the given duration, honoring context cancellation.
// Returns nil when the sleep completed, or ctx.Err() when cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Sleep computes the backoff delay for the attempt and sleeps for it.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	return SleepContext(ctx, Compute(p, attempt))
}
