package downloader

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDelay_GrowsExponentially(t *testing.T) {
	cfg := backoffConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}

	for attempt := 0; attempt < 5; attempt++ {
		base := cfg.BaseDelay * (1 << attempt)
		d := cfg.delay(attempt)
		min := time.Duration(float64(base) * 0.75)
		max := time.Duration(float64(base) * 1.25)
		if d < min || d > max {
			t.Fatalf("attempt %d: delay %s outside [%s, %s]", attempt, d, min, max)
		}
	}
}

func TestBackoffDelay_CappedAtMax(t *testing.T) {
	cfg := backoffConfig{BaseDelay: time.Second, MaxDelay: 4 * time.Second}

	d := cfg.delay(10)
	if max := time.Duration(float64(cfg.MaxDelay) * 1.25); d > max {
		t.Fatalf("delay %s exceeds cap with jitter %s", d, max)
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepWithContext(ctx, time.Minute)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("sleep did not return promptly: %s", elapsed)
	}
}

func TestSleepWithContext_Completes(t *testing.T) {
	if err := sleepWithContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
