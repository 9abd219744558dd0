package github

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/ikido/fleetctl/internal/worksource"
)

func headerWithLimit(limit, remaining int) http.Header {
	h := make(http.Header)
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", "1700000000")
	return h
}

func TestSource_LastRateLimitInfo_UnsetBeforeAnyRequest(t *testing.T) {
	s := New("owner", "repo", "token")
	_, ok := s.LastRateLimitInfo()
	if ok {
		t.Fatal("expected no rate limit info before any recorded response")
	}
}

func TestSource_RecordRateLimit_UpdatesLastSeen(t *testing.T) {
	s := New("owner", "repo", "token")
	s.recordRateLimit(headerWithLimit(5000, 4321), "core")

	info, ok := s.LastRateLimitInfo()
	if !ok {
		t.Fatal("expected rate limit info to be recorded")
	}
	if info.Limit != 5000 || info.Remaining != 4321 || info.Resource != "core" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Reset.Unix() != 1700000000 {
		t.Fatalf("expected reset to be parsed from X-RateLimit-Reset, got %v", info.Reset)
	}
}

func TestSource_OnRateLimitLow_FiresOnceOnDrop(t *testing.T) {
	s := New("owner", "repo", "token")

	var calls []worksource.RateLimitInfo
	s.OnRateLimitLow(100, func(info worksource.RateLimitInfo) {
		calls = append(calls, info)
	})

	s.recordRateLimit(headerWithLimit(5000, 500), "core")
	if len(calls) != 0 {
		t.Fatalf("expected no callback above threshold, got %d calls", len(calls))
	}

	s.recordRateLimit(headerWithLimit(5000, 80), "core")
	if len(calls) != 1 {
		t.Fatalf("expected exactly one callback on crossing below threshold, got %d", len(calls))
	}

	// Remaining stays low on the next response: no repeat callback until it
	// recovers above threshold and drops again.
	s.recordRateLimit(headerWithLimit(5000, 50), "core")
	if len(calls) != 1 {
		t.Fatalf("expected callback not to repeat while still below threshold, got %d", len(calls))
	}

	s.recordRateLimit(headerWithLimit(5000, 4000), "core")
	s.recordRateLimit(headerWithLimit(5000, 10), "core")
	if len(calls) != 2 {
		t.Fatalf("expected a second callback after recovering and dropping again, got %d", len(calls))
	}
}

func TestSource_OnRateLimitLow_DefaultThresholdKeptWhenZero(t *testing.T) {
	s := New("owner", "repo", "token")
	fired := false
	s.OnRateLimitLow(0, func(worksource.RateLimitInfo) { fired = true })

	s.recordRateLimit(headerWithLimit(5000, defaultWarningThreshold-1), "core")
	if !fired {
		t.Fatal("expected default warning threshold to still apply when OnRateLimitLow is called with 0")
	}
}
