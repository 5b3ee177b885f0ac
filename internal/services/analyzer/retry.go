package analyzer

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// temporary is implemented by errors that know whether a repeat can help,
// such as a provider's HTTP status error.
type temporary interface {
	Temporary() bool
}

// retry calls fn up to maxAttempts times, doubling the delay between calls
// and adding up to 50% jitter. It gives up early when ctx is done or fn
// fails with an error that says repeating is pointless.
func retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var t temporary
		if errors.As(lastErr, &t) && !t.Temporary() {
			return lastErr
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		var jitter time.Duration
		if half := int64(delay / 2); half > 0 {
			jitter = time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return lastErr
}
