package chat

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ConnectWithRetry retries connect (the platform gateway's initial
// handshake) with the same exponential-backoff-with-jitter shape
// internal/worksource.ClaimWithRetry uses for work-source calls (spec.md
// §9's open question on backoff parity between the two layers is
// resolved by sharing this one retry policy). ctx cancellation aborts the
// retry loop immediately.
func ConnectWithRetry(ctx context.Context, maxElapsed time.Duration, connect func() error) error {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second

	operation := func() (struct{}, error) {
		return struct{}{}, connect()
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
	return err
}
