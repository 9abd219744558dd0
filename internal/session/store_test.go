package session

import (
	"testing"
	"time"

	"github.com/ikido/fleetctl/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, newTestLogger())

	rec := Record{
		SessionID:        "sess-1",
		AgentName:        "coder",
		WorkingDirectory: "/repo",
		RuntimeContext:   RuntimeContext{Backend: "claude", Docker: false},
		LastUsedAt:       time.Now(),
	}
	if err := s.Put("coder", rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get("coder")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.SessionID != "sess-1" {
		t.Fatalf("expected round-tripped record, got %+v", got)
	}

	// a fresh store instance must read the same file back
	s2 := NewStore(dir, newTestLogger())
	got2, err := s2.Get("coder")
	if err != nil {
		t.Fatalf("get from fresh store: %v", err)
	}
	if got2 == nil || got2.SessionID != "sess-1" {
		t.Fatalf("expected persisted record across instances, got %+v", got2)
	}
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	s := NewStore(t.TempDir(), newTestLogger())
	got, err := s.Get("absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestStore_Clear(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, newTestLogger())
	_ = s.Put("coder", Record{SessionID: "a"})

	existed, err := s.Clear("coder")
	if err != nil || !existed {
		t.Fatalf("expected clear to report existed=true, err=%v", err)
	}

	got, _ := s.Get("coder")
	if got != nil {
		t.Fatalf("expected cleared record to be gone")
	}
}

func TestRecord_IsReusable(t *testing.T) {
	now := time.Now()
	r := Record{
		WorkingDirectory: "/repo",
		RuntimeContext:   RuntimeContext{Backend: "claude"},
		LastUsedAt:       now,
	}

	if reason := r.IsReusable("/repo", RuntimeContext{Backend: "claude"}, now, 0); reason != InvalidNone {
		t.Fatalf("expected reusable, got %q", reason)
	}
	if reason := r.IsReusable("/other", RuntimeContext{Backend: "claude"}, now, 0); reason != InvalidWorkingDirectory {
		t.Fatalf("expected working_directory_mismatch, got %q", reason)
	}
	if reason := r.IsReusable("/repo", RuntimeContext{Backend: "codex"}, now, 0); reason != InvalidRuntimeContext {
		t.Fatalf("expected runtime_context_mismatch, got %q", reason)
	}
	if reason := r.IsReusable("/repo", RuntimeContext{Backend: "claude"}, now.Add(time.Hour), time.Minute); reason != InvalidExpired {
		t.Fatalf("expected expired, got %q", reason)
	}
}

func TestKeyStore_PutGetClear(t *testing.T) {
	dir := t.TempDir()
	ks := NewKeyStore(dir, newTestLogger())

	rec := ConversationKeyRecord{SessionID: "s1", LastActivityAt: time.Now()}
	if err := ks.Put("discord", "coder", "channel-1", rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := ks.Get("discord", "coder", "channel-1")
	if err != nil || got == nil || got.SessionID != "s1" {
		t.Fatalf("expected round-tripped record, got %+v err=%v", got, err)
	}

	existed, err := ks.Clear("discord", "coder", "channel-1")
	if err != nil || !existed {
		t.Fatalf("expected clear existed=true, err=%v", err)
	}
	if got, _ := ks.Get("discord", "coder", "channel-1"); got != nil {
		t.Fatalf("expected cleared entry to be gone")
	}
}

func TestKeyStore_CleanupExpired(t *testing.T) {
	dir := t.TempDir()
	ks := NewKeyStore(dir, newTestLogger())

	old := ConversationKeyRecord{SessionID: "old", LastActivityAt: time.Now().Add(-48 * time.Hour)}
	fresh := ConversationKeyRecord{SessionID: "fresh", LastActivityAt: time.Now()}
	_ = ks.Put("discord", "coder", "c-old", old)
	_ = ks.Put("discord", "coder", "c-fresh", fresh)

	removed, err := ks.CleanupExpired(time.Now(), DefaultChatTTL)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if got, _ := ks.Get("discord", "coder", "c-fresh"); got == nil {
		t.Fatalf("expected fresh entry to survive cleanup")
	}
}
