// Package worksource defines the Work-Source Adapter contract: how the
// fleet pulls externally tracked work (GitHub issues today, other trackers
// tomorrow) and coordinates claiming it so two schedules never pick up the
// same item.
package worksource

import (
	"context"
	"errors"
	"time"

	"github.com/ikido/fleetctl/pkg/api"
)

// ErrAlreadyClaimed is returned by Claim when another actor's label change
// won the race. Callers treat this as a normal skip, not a failure.
var ErrAlreadyClaimed = errors.New("worksource: item already claimed")

// ErrNotFound is returned by Get/Complete/Release when the item no longer
// exists at the source.
var ErrNotFound = errors.New("worksource: item not found")

// ErrInvalidState is returned by Claim when the item is no longer in a
// claimable state (e.g. a GitHub issue already closed).
var ErrInvalidState = errors.New("worksource: item not in a claimable state")

// Outcome classifies how a job concluded against a claimed work item,
// selecting Complete's comment prefix and close/leave-open behavior.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// FetchOptions narrows a fetch_available call.
type FetchOptions struct {
	// Labels restricts results to items carrying all of these labels.
	Labels []string
	// ExcludeLabels drops items carrying any of these labels (e.g. the
	// adapter's own in_progress label, so a concurrently claimed item
	// doesn't get offered twice in the same poll).
	ExcludeLabels []string
	// Limit caps how many items a single fetch returns. Zero means the
	// adapter's own default.
	Limit int
}

// Source is the contract every work-source adapter implements. An adapter
// is configured with one external repository/project and one polling
// schedule binds to exactly one adapter instance.
type Source interface {
	// FetchAvailable lists claimable work items, oldest (by CreatedAt)
	// first. It never mutates state.
	FetchAvailable(ctx context.Context, opts FetchOptions) ([]api.WorkItem, error)

	// Claim marks an item in_progress. Implementations must make the
	// claim itself race-visible to other pollers (an add-then-remove
	// label sequence, not a single atomic call, since most trackers don't
	// offer compare-and-swap): a caller that loses the race gets
	// ErrAlreadyClaimed, not a generic error.
	Claim(ctx context.Context, itemID string) error

	// Complete posts a structured comment recording outcome and closes
	// the item on OutcomeSuccess; on OutcomeFailure/OutcomePartial the
	// item is left open for a human or a later schedule to revisit.
	Complete(ctx context.Context, itemID string, outcome Outcome, jobID, summary string) error

	// Release undoes a Claim, returning the item to the available pool.
	// Used when a job fails or is cancelled before finishing the item.
	Release(ctx context.Context, itemID string) error

	// Get fetches a single item by id, bypassing the available-pool
	// filters (used to refresh an item already bound to a running job).
	Get(ctx context.Context, itemID string) (*api.WorkItem, error)
}

// RateLimitInfo is the `{limit, remaining, reset, resource}` snapshot
// §4.5 requires every adapter call to extract from the upstream's rate
// limit headers and expose as observable state.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Resource  string
}

// RateLimitObserver is a Source that tracks and can report the most
// recent RateLimitInfo it has seen, and fires a warning callback once
// Remaining drops below a configured threshold.
type RateLimitObserver interface {
	LastRateLimitInfo() (RateLimitInfo, bool)
}

// RateLimitError is returned by an adapter when the upstream API reports a
// rate limit. ResetAt, when non-zero, lets the scheduler pause this
// source's polling schedule until the limit window rolls over instead of
// retrying blind.
type RateLimitError struct {
	Err     error
	ResetAt time.Time
}

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// AsRateLimit reports whether err is (or wraps) a RateLimitError and
// returns it.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// PermanentError marks an adapter error as non-retryable: 401, 403 (not a
// rate limit), and 404 fail a claim attempt outright rather than being
// retried with backoff.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
