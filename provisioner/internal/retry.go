package internal

import (
	"context"
	"time"
)

// RetryResultWithContext calls fn up to maxAttempts times with exponential backoff
// (100ms, 200ms, 400ms, 800ms, ...). Returns the last error if all attempts fail,
// or ctx.Err() if the context is cancelled first.
func RetryResultWithContext[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; i < maxAttempts; i++ {
		if result, err = fn(); err == nil {
			return result, nil
		}
		if i < maxAttempts-1 {
			select {
			case <-time.After(backoff(i)):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}
	return result, err
}

func backoff(attempt int) time.Duration {
	return min(time.Duration(100*(1<<attempt))*time.Millisecond, 30*time.Second)
}

// Poll calls fn every interval until it reports done or fails.
// Returns ctx.Err() if the context ends first.
func Poll(ctx context.Context, interval time.Duration, fn func(ctx context.Context) (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
