package worksource

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ClaimWithRetry attempts source.Claim, retrying transient failures with
// exponential backoff and jitter. A RateLimitError short-circuits the
// retry loop entirely — the scheduler is expected to pause the owning
// schedule until ResetAt rather than spin on it, so this returns the
// RateLimitError immediately on first sight.
func ClaimWithRetry(ctx context.Context, source Source, itemID string, maxElapsed time.Duration) error {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second

	operation := func() (struct{}, error) {
		err := source.Claim(ctx, itemID)
		if err == nil {
			return struct{}{}, nil
		}
		if _, ok := AsRateLimit(err); ok {
			// Permanent from the retry loop's point of view: the caller
			// decides what to do about the reset window.
			return struct{}{}, backoff.Permanent(err)
		}
		if err == ErrAlreadyClaimed {
			return struct{}{}, backoff.Permanent(err)
		}
		// Never retry a 401/403(non-RL)/404: the claim cannot possibly
		// succeed by trying again, only by a human fixing credentials or
		// the item resurfacing.
		if IsPermanent(err) || errors.Is(err, ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
	return err
}
