package jobstore

import (
	"testing"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/pkg/api"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func TestStore_CreateGetUpdateAppend(t *testing.T) {
	s := New(t.TempDir(), newTestLogger())

	id, err := s.Create(api.Job{AgentName: "coder", Prompt: "do the thing"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	job, err := s.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != api.JobPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}

	sid := "sess-1"
	if err := s.UpdateStatus(id, api.JobRunning, StatusFields{SessionID: &sid}); err != nil {
		t.Fatalf("update: %v", err)
	}
	job, _ = s.Get(id)
	if job.Status != api.JobRunning || job.SessionID != "sess-1" {
		t.Fatalf("expected running/sess-1, got %+v", job)
	}

	entries := []api.OutputEntry{
		{Type: api.OutputSystem, Subtype: "init", SessionID: "sess-1"},
		{Type: api.OutputAssistant, Content: "hello"},
		{Type: api.OutputSystem, Subtype: "context_handoff"},
		{Type: api.OutputSystem, Subtype: "handoff_document", Content: "summary"},
	}
	for _, e := range entries {
		if err := s.AppendOutput(id, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.ReadOutput(id)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(got))
	}
	for i, e := range entries {
		if got[i].Type != e.Type || got[i].Subtype != e.Subtype {
			t.Fatalf("entry %d out of order or mismatched: got %+v want %+v", i, got[i], e)
		}
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := New(t.TempDir(), newTestLogger())
	if _, err := s.Get("nope"); err != ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	s := New(t.TempDir(), newTestLogger())
	id1, _ := s.Create(api.Job{AgentName: "a"})
	id2, _ := s.Create(api.Job{AgentName: "b"})

	ids, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen[id1] || !seen[id2] {
		t.Fatalf("expected both ids present, got %v", ids)
	}
}
