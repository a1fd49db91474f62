package engine

import (
	"context"
	"time"
)

// WaitForRetryDelay sleeps for the step's retry delay or returns early if
// the context is cancelled. Returns an error if the context was cancelled
// during the wait.
func WaitForRetryDelay(ctx context.Context, seconds int) error {
	if seconds <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
