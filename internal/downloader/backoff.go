package downloader

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// backoffConfig controls the retry delay for failed segment fetches.
type backoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var defaultBackoffConfig = backoffConfig{
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  8 * time.Second,
}

// delay computes the wait before retry number attempt (counted from 0) as
// exponential backoff with ±25% jitter, so retry bursts against a struggling
// origin spread out instead of re-arriving together.
func (c backoffConfig) delay(attempt int) time.Duration {
	base := float64(c.BaseDelay) * math.Pow(2, float64(attempt))
	if base > float64(c.MaxDelay) {
		base = float64(c.MaxDelay)
	}
	jitter := base * 0.25 * (rand.Float64()*2 - 1) //nolint:gosec
	return time.Duration(base + jitter)
}

// sleepWithContext sleeps for d, returning early if the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
