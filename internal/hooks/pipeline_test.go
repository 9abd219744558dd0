package hooks

import (
	"context"
	"testing"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/fleetconfig"
)

type fakeRunner struct {
	calls  *[]string
	result Outcome
}

func (f fakeRunner) Run(ctx context.Context, hook fleetconfig.HookConfig, payload any) Outcome {
	*f.calls = append(*f.calls, hook.Name)
	return f.result
}

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func TestPipeline_FiresInOrderAndRespectsEventFilter(t *testing.T) {
	var calls []string
	ok := fakeRunner{calls: &calls, result: Outcome{Success: true}}
	p := New(newTestLogger(), map[fleetconfig.HookType]Runner{fleetconfig.HookShell: ok})

	hooks := []fleetconfig.HookConfig{
		{Name: "a", Type: fleetconfig.HookShell},
		{Name: "b", Type: fleetconfig.HookShell, OnEvents: []fleetconfig.HookEvent{fleetconfig.HookFailed}},
		{Name: "c", Type: fleetconfig.HookShell},
	}

	p.Fire(context.Background(), fleetconfig.HookCompleted, hooks, LifecyclePayload{Event: "completed"})
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "c" {
		t.Fatalf("expected [a c] fired for completed event (b filtered out), got %v", calls)
	}
}

func TestPipeline_StopsOnFailureWhenContinueOnErrorFalse(t *testing.T) {
	var calls []string
	failing := false
	continueOnError := false
	hooks := []fleetconfig.HookConfig{
		{Name: "first", Type: fleetconfig.HookShell, ContinueOnError: &continueOnError},
		{Name: "second", Type: fleetconfig.HookShell},
	}

	runners := map[fleetconfig.HookType]Runner{
		fleetconfig.HookShell: fakeRunner{calls: &calls, result: Outcome{Success: failing}},
	}
	p := New(newTestLogger(), runners)
	p.Fire(context.Background(), fleetconfig.HookCompleted, hooks, LifecyclePayload{})

	if len(calls) != 1 || calls[0] != "first" {
		t.Fatalf("expected pipeline to stop after first hook's failure, got %v", calls)
	}
}

func TestPipeline_WhenPredicateFiltersHook(t *testing.T) {
	var calls []string
	ok := fakeRunner{calls: &calls, result: Outcome{Success: true}}
	p := New(newTestLogger(), map[fleetconfig.HookType]Runner{fleetconfig.HookShell: ok})

	hooks := []fleetconfig.HookConfig{
		{Name: "gated", Type: fleetconfig.HookShell, When: "session.is_continuation"},
	}
	p.Fire(context.Background(), fleetconfig.HookSessionStart, hooks, SessionStartPayload{
		Session: SessionInfo{IsContinuation: false},
	})
	if len(calls) != 0 {
		t.Fatalf("expected hook suppressed when predicate is false, got %v", calls)
	}

	p.Fire(context.Background(), fleetconfig.HookSessionStart, hooks, SessionStartPayload{
		Session: SessionInfo{IsContinuation: true},
	})
	if len(calls) != 1 {
		t.Fatalf("expected hook fired when predicate is true, got %v", calls)
	}
}
