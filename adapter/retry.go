package adapter

import (
	"context"
	"fmt"
	"time"
)

// BaseBackoff is the wait before the first retry. Each further retry
// doubles it.
const BaseBackoff = 500 * time.Millisecond

// Retry calls op up to 1+retries times with exponential backoff between
// attempts. It stops early when op succeeds, ctx ends, or permanent reports
// the error as not worth retrying. permanent may be nil.
func Retry(ctx context.Context, retries int, op func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
