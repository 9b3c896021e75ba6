package go_fvm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryWithBackoff calls fn until it succeeds, returns a permanent error,
// maxRetries retries have failed or ctx is done. The delay starts at
// initialBackoff and doubles up to maxBackoff.
//
// maxRetries of 0 disables retries; a negative value retries until ctx is
// done. An error is permanent when it implements Temporary() bool and
// reports false. Engine errors classify themselves through (*FvmError).Temporary.
//
// Example:
//
//	err := RetryWithBackoff(ctx, 10, 100*time.Millisecond, engine.Init)
func RetryWithBackoff(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn func() error) error {
	const maxBackoff = 30 * time.Second

	attempt := 0
	backoff := initialBackoff
	for {
		err := fn()
		if err == nil {
			if attempt > 0 {
				Debug("Retry succeeded after %d attempts", attempt)
			}
			return nil
		}
		attempt++

		if !isTemporary(err) {
			Debug("Not retrying permanent error: %v", err)
			return err
		}
		if maxRetries >= 0 && attempt > maxRetries {
			return &MaxRetriesExceededError{Attempts: attempt, LastErr: err}
		}

		Debug("Attempt %d failed: %v (retrying in %v)", attempt, err, backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// MaxRetriesExceededError is returned once the retry budget is spent.
type MaxRetriesExceededError struct {
	Attempts int
	LastErr  error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *MaxRetriesExceededError) Unwrap() error {
	return e.LastErr
}
