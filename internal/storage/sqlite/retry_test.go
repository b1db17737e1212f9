package sqlite

import (
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsOnTransientLock(t *testing.T) {
	calls := 0
	err := retryOnBusy(DefaultRetryConfig(), func() error {
		calls++
		if calls <= 3 {
			return errors.New("database is locked")
		}
		return nil
	}, func(time.Duration) {})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestRetryPassesThroughOtherErrors(t *testing.T) {
	calls := 0
	err := retryOnBusy(DefaultRetryConfig(), func() error {
		calls++
		return errors.New("UNIQUE constraint failed")
	}, func(time.Duration) {})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryExhaustsAllAttempts(t *testing.T) {
	calls := 0
	cfg := DefaultRetryConfig()
	err := retryOnBusy(cfg, func() error {
		calls++
		return errors.New("database is busy")
	}, func(time.Duration) {})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 1+cfg.MaxRetries {
		t.Fatalf("expected %d calls, got %d", 1+cfg.MaxRetries, calls)
	}
}

func TestRetryBackoffGrowsWithinJitterBounds(t *testing.T) {
	cfg := DefaultRetryConfig()
	var sleeps []time.Duration
	_ = retryOnBusy(cfg, func() error {
		return errors.New("database is locked")
	}, func(d time.Duration) {
		sleeps = append(sleeps, d)
	})

	if len(sleeps) != cfg.MaxRetries {
		t.Fatalf("expected %d sleeps, got %d", cfg.MaxRetries, len(sleeps))
	}
	for i, d := range sleeps {
		base := cfg.BaseDelay * (1 << i)
		max := base + time.Duration(float64(base)*cfg.JitterPct)
		if d < base || d > max {
			t.Fatalf("sleep %d = %v outside [%v, %v]", i, d, base, max)
		}
	}
}
