package sentinelerr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the fixed backoff schedule spec.md §7 mandates for the two
// transient kinds: exponential backoff, max 3 attempts, capped at 30s.
func RetryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

// Retry runs fn, retrying only on transient (IsTransient) errors, up to the
// fixed policy above. Any non-transient error returns immediately without
// retrying, per spec.md §7 ("all other kinds halt the pipeline").
func Retry(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, RetryPolicy(ctx))
}
