package util

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry runs fn until it succeeds or attempts are exhausted, doubling the
// pause after each failure (base, 2*base, 4*base, ...). Each failed attempt
// is logged under the given operation name. Cancellation during a pause wins
// over further attempts; exhaustion returns the final error wrapped with the
// operation and attempt count.
func Retry(ctx context.Context, op string, attempts int, base time.Duration, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.Debug("retrying", "op", op, "attempt", i+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(base << i):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}
