package embedder

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for embedding requests.
type RetryConfig struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Backoff base; attempt n waits up to BaseDelay*2^n
	MaxDelay    time.Duration // Cap on the computed backoff window
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    8 * time.Second,
	}
}

// withRetry executes fn with exponential backoff and full jitter: the wait
// before attempt n is uniform in [0, min(MaxDelay, BaseDelay*2^(n-1))].
// Non-transient errors abort immediately.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error, transient func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			window := cfg.BaseDelay << (attempt - 1)
			if window > cfg.MaxDelay {
				window = cfg.MaxDelay
			}
			delay := time.Duration(rand.Int63n(int64(window) + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !transient(err) {
			return err
		}
	}

	return fmt.Errorf("exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}
