package webhook

import (
	"sync"
	"time"
)

// idempotencySet is the process-wide TTL set of seen delivery ids (§5):
// the webhook ingestor dispatches at most one downstream trigger per
// delivery id within the window.
type idempotencySet struct {
	ttl time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func newIdempotencySet(ttl time.Duration) *idempotencySet {
	return &idempotencySet{ttl: ttl, seen: make(map[string]time.Time)}
}

// seenBefore records id if it hasn't been seen within the TTL window and
// reports whether this is a duplicate. Called once per inbound delivery,
// before route matching.
func (s *idempotencySet) seenBefore(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(now)

	if expiresAt, ok := s.seen[id]; ok && now.Before(expiresAt) {
		return true
	}
	s.seen[id] = now.Add(s.ttl)
	return false
}

// evictLocked drops expired entries. Called with mu held.
func (s *idempotencySet) evictLocked(now time.Time) {
	for id, expiresAt := range s.seen {
		if !now.Before(expiresAt) {
			delete(s.seen, id)
		}
	}
}
