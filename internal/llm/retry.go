package llm

import (
	"context"
	"time"

	"github.com/corterra/askd/internal/apperr"
)

// retryTransport retries fn on transport failures only. Business errors
// (quota, context length, content filter) surface immediately.
func retryTransport(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * 500 * time.Millisecond):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !apperr.Is(err, apperr.ProviderUnavailable) {
			return err
		}
	}
	return err
}
