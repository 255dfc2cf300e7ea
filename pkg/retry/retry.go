// Package retry centralizes the retry loops of the blob storage layer
// and the database-to-S3 blob migration into one helper.
package retry

import (
	"context"
	"time"
)

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Do calls fn up to maxAttempts times, sleeping baseDelay*2^(attempt-1)
// between attempts, stopping early when is returns false for the error
// fn produced or when ctx is done. It returns the last error fn
// produced, or ctx.Err() if ctx ends while waiting between attempts.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, is Classifier, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if is != nil && !is(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		delay := baseDelay << uint(attempt-1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// Always treats every error as transient. Use for call sites that have
// no better classifier but still want a bounded number of attempts.
func Always(error) bool { return true }
