package executor

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/internal/hooks"
	"github.com/ikido/fleetctl/internal/jobstore"
	"github.com/ikido/fleetctl/internal/runtime"
	"github.com/ikido/fleetctl/internal/session"
	"github.com/ikido/fleetctl/internal/workspace"
	"github.com/ikido/fleetctl/pkg/api"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func newTestExecutor(t *testing.T) (*Executor, *jobstore.Store) {
	t.Helper()
	root := t.TempDir()
	log := newTestLogger()
	jobs := jobstore.New(root, log)
	sessions := session.NewStore(root, log)
	workspaces := workspace.NewResolver(nil, log, nil)
	pipe := hooks.New(log, map[fleetconfig.HookType]hooks.Runner{})
	return New(jobs, sessions, workspaces, pipe, nil, log), jobs
}

// registerScript installs a one-off runtime kind wired to script and
// returns the kind to set on an agent under test.
func registerScript(t *testing.T, script func(runtime.ExecuteOptions) []runtime.Message) fleetconfig.RuntimeKind {
	t.Helper()
	kind := fleetconfig.RuntimeKind("test_" + uuid.New().String())
	runtime.Register(kind, func(agent fleetconfig.Agent) (runtime.Adapter, error) {
		return &scriptedFactoryAdapter{script: script}, nil
	})
	return kind
}

type scriptedFactoryAdapter struct {
	script func(runtime.ExecuteOptions) []runtime.Message
}

func (a *scriptedFactoryAdapter) Discriminator() string { return "test_scripted" }

func (a *scriptedFactoryAdapter) Execute(ctx context.Context, opts runtime.ExecuteOptions) (<-chan runtime.Message, error) {
	messages := a.script(opts)
	out := make(chan runtime.Message, len(messages))
	go func() {
		defer close(out)
		for _, m := range messages {
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func baseAgent(kind fleetconfig.RuntimeKind) fleetconfig.Agent {
	return fleetconfig.Agent{
		Name:             "coder",
		WorkingDirectory: "/tmp/fleet-test",
		RuntimeType:      kind,
		ContextThreshold: 0.10,
	}.WithDefaults()
}

func TestExecute_SimpleSuccess(t *testing.T) {
	kind := registerScript(t, func(opts runtime.ExecuteOptions) []runtime.Message {
		return []runtime.Message{
			{Type: runtime.MessageSystem, Subtype: runtime.SubtypeInit, SessionID: "sess-1", ModelName: "sonnet"},
			{Type: runtime.MessageAssistant, Text: "done", Usage: &runtime.Usage{InputTokens: 1000, OutputTokens: 20}},
			{Type: runtime.MessageResult, Success: true},
		}
	})
	exec, jobs := newTestExecutor(t)

	result, err := exec.Execute(context.Background(), Options{
		Agent: baseAgent(kind), Prompt: "do the thing", TriggerSource: api.TriggerManual,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.SessionID != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q", result.SessionID)
	}

	job, err := jobs.Get(result.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != api.JobCompleted {
		t.Fatalf("expected job completed, got %s", job.Status)
	}
	if job.Tokens.HandoffCount != 0 {
		t.Fatalf("expected no handoffs, got %d", job.Tokens.HandoffCount)
	}
}

// TestExecute_HandoffPreservesJobAndWorkingDirectory exercises scenario 2:
// a context handoff must keep the job id and working directory stable,
// and must always bracket the restart with handoff_document and
// context_handoff output entries.
func TestExecute_HandoffPreservesJobAndWorkingDirectory(t *testing.T) {
	round := 0
	kind := registerScript(t, func(opts runtime.ExecuteOptions) []runtime.Message {
		round++
		if round == 1 {
			return []runtime.Message{
				{Type: runtime.MessageSystem, Subtype: runtime.SubtypeInit, SessionID: "sess-1", ModelName: "sonnet"},
				{Type: runtime.MessageAssistant, Text: "working on it", Usage: &runtime.Usage{InputTokens: 195_000}},
			}
		}
		if round == 2 {
			// the built-in handoff sub-query.
			return []runtime.Message{
				{Type: runtime.MessageAssistant, Text: "summary of progress so far"},
				{Type: runtime.MessageResult, Success: true},
			}
		}
		return []runtime.Message{
			{Type: runtime.MessageSystem, Subtype: runtime.SubtypeInit, SessionID: "sess-2", ModelName: "sonnet"},
			{Type: runtime.MessageAssistant, Text: "finished", Usage: &runtime.Usage{InputTokens: 1000}},
			{Type: runtime.MessageResult, Success: true},
		}
	})
	exec, jobs := newTestExecutor(t)

	result, err := exec.Execute(context.Background(), Options{
		Agent: baseAgent(kind), Prompt: "long running task", TriggerSource: api.TriggerManual,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected eventual success, got error %q", result.Error)
	}
	if result.SessionID != "sess-2" {
		t.Fatalf("expected final session id sess-2 after handoff, got %q", result.SessionID)
	}

	job, err := jobs.Get(result.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Tokens.HandoffCount != 1 {
		t.Fatalf("expected exactly one handoff, got %d", job.Tokens.HandoffCount)
	}

	entries, err := jobs.ReadOutput(result.JobID)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	docIdx, handoffIdx := -1, -1
	for i, e := range entries {
		if e.Subtype == api.SubtypeHandoffDocument {
			docIdx = i
		}
		if e.Subtype == api.SubtypeContextHandoff {
			handoffIdx = i
		}
	}
	if docIdx == -1 || handoffIdx == -1 {
		t.Fatalf("expected both handoff_document and context_handoff entries, got doc=%v handoff=%v", docIdx, handoffIdx)
	}
	if handoffIdx > docIdx {
		t.Fatalf("expected context_handoff (index %d) to precede handoff_document (index %d)", handoffIdx, docIdx)
	}
}

func TestExecute_HandoffSubQueryFailureFallsBackToOriginalPrompt(t *testing.T) {
	round := 0
	kind := registerScript(t, func(opts runtime.ExecuteOptions) []runtime.Message {
		round++
		switch round {
		case 1:
			return []runtime.Message{
				{Type: runtime.MessageSystem, Subtype: runtime.SubtypeInit, SessionID: "sess-1"},
				{Type: runtime.MessageAssistant, Usage: &runtime.Usage{InputTokens: 195_000}},
			}
		case 2:
			// sub-query stream closes without ever producing a result message.
			return []runtime.Message{
				{Type: runtime.MessageAssistant, Text: ""},
			}
		default:
			if opts.Prompt != "long running task" {
				t.Fatalf("expected fallback to original prompt, got %q", opts.Prompt)
			}
			return []runtime.Message{
				{Type: runtime.MessageSystem, Subtype: runtime.SubtypeInit, SessionID: "sess-2"},
				{Type: runtime.MessageAssistant, Text: "finished", Usage: &runtime.Usage{InputTokens: 100}},
				{Type: runtime.MessageResult, Success: true},
			}
		}
	})
	exec, _ := newTestExecutor(t)

	result, err := exec.Execute(context.Background(), Options{
		Agent: baseAgent(kind), Prompt: "long running task", TriggerSource: api.TriggerManual,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success despite sub-query failure, got error %q", result.Error)
	}
}

func TestExecute_MaxHandoffsExceeded(t *testing.T) {
	kind := registerScript(t, func(opts runtime.ExecuteOptions) []runtime.Message {
		// every round reports high usage and never terminates, forcing
		// repeated handoffs until the cap is hit.
		return []runtime.Message{
			{Type: runtime.MessageSystem, Subtype: runtime.SubtypeInit, SessionID: "sess-x"},
			{Type: runtime.MessageAssistant, Usage: &runtime.Usage{InputTokens: 195_000}},
		}
	})
	exec, jobs := newTestExecutor(t)

	agent := baseAgent(kind)
	agent.MaxHandoffs = 2

	result, err := exec.Execute(context.Background(), Options{
		Agent: agent, Prompt: "never-ending task", TriggerSource: api.TriggerManual,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure once max_handoffs is exceeded")
	}
	if result.Error != "max_handoffs_exceeded" {
		t.Fatalf("expected max_handoffs_exceeded, got %q", result.Error)
	}

	job, err := jobs.Get(result.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Tokens.HandoffCount != 2 {
		t.Fatalf("expected handoff count capped at 2, got %d", job.Tokens.HandoffCount)
	}
}
