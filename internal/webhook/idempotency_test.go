package webhook

import (
	"testing"
	"time"
)

func TestIdempotencySet_DuplicateWithinTTL(t *testing.T) {
	s := newIdempotencySet(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if s.seenBefore("d1", now) {
		t.Fatal("first sighting reported as duplicate")
	}
	if !s.seenBefore("d1", now.Add(time.Minute)) {
		t.Fatal("second sighting within TTL not reported as duplicate")
	}
}

func TestIdempotencySet_ExpiresAfterTTL(t *testing.T) {
	s := newIdempotencySet(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.seenBefore("d1", now)
	if s.seenBefore("d1", now.Add(2*time.Minute)) {
		t.Fatal("delivery past TTL still reported as duplicate")
	}
}
