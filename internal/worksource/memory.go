package worksource

import (
	"context"
	"sort"
	"sync"

	"github.com/ikido/fleetctl/pkg/api"
)

// MemorySource is a deterministic, in-process Source used by tests and by
// fleets configured without an external tracker. It never shells out and
// never hits the network, mirroring the runtime package's in-process
// adapter fake.
type MemorySource struct {
	mu    sync.Mutex
	items map[string]*api.WorkItem
	// claimed tracks itemID -> true while in_progress.
	claimed map[string]bool
}

// NewMemorySource creates an empty fake source. Seed adds items to it.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		items:   make(map[string]*api.WorkItem),
		claimed: make(map[string]bool),
	}
}

// Seed adds or replaces a work item in the fake source.
func (s *MemorySource) Seed(item api.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := item
	s.items[item.ID] = &cp
}

func (s *MemorySource) FetchAvailable(_ context.Context, opts FetchOptions) ([]api.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []api.WorkItem
	for id, item := range s.items {
		if s.claimed[id] {
			continue
		}
		if !hasAllLabels(item.Labels, opts.Labels) {
			continue
		}
		if hasAnyLabel(item.Labels, opts.ExcludeLabels) {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemorySource) Claim(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return ErrNotFound
	}
	if s.claimed[itemID] {
		return ErrAlreadyClaimed
	}
	s.claimed[itemID] = true
	return nil
}

func (s *MemorySource) Complete(_ context.Context, itemID string, outcome Outcome, jobID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	item.Metadata = withMeta(item.Metadata, "completed_by_job", jobID)
	item.Metadata = withMeta(item.Metadata, "completion_summary", summary)
	item.Metadata = withMeta(item.Metadata, "completion_outcome", string(outcome))
	delete(s.claimed, itemID)
	if outcome == OutcomeSuccess {
		item.Metadata = withMeta(item.Metadata, "state", "closed")
	} else {
		// failure/partial: leave the item open for a human or a later
		// schedule to revisit, matching the GitHub adapter's behavior.
		item.Metadata = withMeta(item.Metadata, "state", "open")
	}
	return nil
}

func (s *MemorySource) Release(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return ErrNotFound
	}
	delete(s.claimed, itemID)
	return nil
}

func (s *MemorySource) Get(_ context.Context, itemID string) (*api.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func withMeta(m map[string]interface{}, key string, val interface{}) map[string]interface{} {
	if m == nil {
		m = make(map[string]interface{})
	}
	m[key] = val
	return m
}

func hasAllLabels(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := toSet(have)
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func hasAnyLabel(have, exclude []string) bool {
	if len(exclude) == 0 {
		return false
	}
	set := toSet(have)
	for _, e := range exclude {
		if set[e] {
			return true
		}
	}
	return false
}

func toSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	return set
}

var _ Source = (*MemorySource)(nil)
