package service

import (
	"context"
	"time"
)

// backoffDelay computes the exponential backoff delay for the given
// attempt (1-based): base, 2*base, 4*base... capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// sleepBackoff waits for the attempt's backoff delay, returning early
// with the context error if the caller is canceled.
func sleepBackoff(ctx context.Context, attempt int, base, max time.Duration) error {
	timer := time.NewTimer(backoffDelay(attempt, base, max))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
