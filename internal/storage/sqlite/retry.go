package sqlite

import (
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig controls exponential backoff on busy-database errors.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64
}

// DefaultRetryConfig returns 6 retries starting at 25ms with 25% jitter.
// The DSN's busy_timeout handles most contention; this catches the rest.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 6,
		BaseDelay:  25 * time.Millisecond,
		JitterPct:  0.25,
	}
}

// RetryOnBusy retries fn on "database is locked"/"database is busy" errors
// using the default config. Other errors pass through untouched.
func RetryOnBusy(fn func() error) error {
	return retryOnBusy(DefaultRetryConfig(), fn, time.Sleep)
}

// RetryOnBusyWithConfig retries fn with the given config.
func RetryOnBusyWithConfig(cfg RetryConfig, fn func() error) error {
	return retryOnBusy(cfg, fn, time.Sleep)
}

func retryOnBusy(cfg RetryConfig, fn func() error, sleep func(time.Duration)) error {
	err := fn()
	if err == nil || !isBusy(err) {
		return err
	}
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		sleep(delay + jitter)

		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy")
}
