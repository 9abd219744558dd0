package ctxtrack

import (
	"testing"

	"github.com/ikido/fleetctl/internal/runtime"
)

func TestTracker_ShouldHandoff_LatchesOnce(t *testing.T) {
	tr := New(0.10)
	tr.Observe(runtime.Message{Type: runtime.MessageSystem, Subtype: runtime.SubtypeInit, ModelName: "sonnet"})
	tr.Observe(runtime.Message{Type: runtime.MessageAssistant, Usage: &runtime.Usage{InputTokens: 185_000}})

	if !tr.ShouldHandoff() {
		t.Fatal("expected handoff due at 92.5% usage with 10% threshold")
	}
	if tr.ShouldHandoff() {
		t.Fatal("expected handoff latch to prevent a second true")
	}
}

func TestTracker_NeverFiresWhileCompacting(t *testing.T) {
	tr := New(0.10)
	tr.Observe(runtime.Message{Type: runtime.MessageSystem, Subtype: runtime.SubtypeInit, ModelName: "sonnet"})
	tr.Observe(runtime.Message{Type: runtime.MessageAssistant, Usage: &runtime.Usage{InputTokens: 195_000}})
	tr.Observe(runtime.Message{Type: runtime.MessageSystem, Subtype: runtime.SubtypeStatus, Status: "compacting"})

	if tr.ShouldHandoff() {
		t.Fatal("expected no handoff while is_compacting is true")
	}
}

func TestTracker_ResetClearsLatchButKeepsWindow(t *testing.T) {
	tr := New(0.10)
	tr.Observe(runtime.Message{Type: runtime.MessageSystem, Subtype: runtime.SubtypeInit, ModelName: "sonnet"})
	tr.Observe(runtime.Message{Type: runtime.MessageAssistant, Usage: &runtime.Usage{InputTokens: 185_000}})
	tr.ShouldHandoff()

	tr.Reset()
	if tr.ContextWindow() != 200_000 {
		t.Fatalf("expected window retained at 200000, got %d", tr.ContextWindow())
	}
	if tr.InputTokens() != 0 {
		t.Fatalf("expected tokens cleared, got %d", tr.InputTokens())
	}

	tr.Observe(runtime.Message{Type: runtime.MessageAssistant, Usage: &runtime.Usage{InputTokens: 185_000}})
	if !tr.ShouldHandoff() {
		t.Fatal("expected latch to be clear again after reset")
	}
}

func TestTracker_NoWindowKnownNeverFires(t *testing.T) {
	tr := New(0.10)
	tr.Observe(runtime.Message{Type: runtime.MessageAssistant, Usage: &runtime.Usage{InputTokens: 999_999}})
	if tr.ShouldHandoff() {
		t.Fatal("expected no handoff before an init message establishes a window")
	}
}
