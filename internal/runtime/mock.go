package runtime

import (
	"context"

	"github.com/google/uuid"

	"github.com/ikido/fleetctl/internal/fleetconfig"
)

func init() {
	Register(fleetconfig.RuntimeInProcess, newInProcessAdapter)
}

// inProcessAdapter is the in_process runtime_type's default backend: a
// deterministic, scriptable fake that never shells out. It exists so a
// fleet can be configured and driven end-to-end without a real coding
// backend installed, and it is the adapter the executor's tests use.
type inProcessAdapter struct {
	agent   fleetconfig.Agent
	Scripts func(opts ExecuteOptions) []Message // overridable in tests
}

func newInProcessAdapter(agent fleetconfig.Agent) (Adapter, error) {
	return &inProcessAdapter{agent: agent}, nil
}

func (a *inProcessAdapter) Discriminator() string { return "in_process" }

func (a *inProcessAdapter) Execute(ctx context.Context, opts ExecuteOptions) (<-chan Message, error) {
	script := a.Scripts
	if script == nil {
		script = defaultScript
	}
	messages := script(opts)

	out := make(chan Message, len(messages))
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

func defaultScript(opts ExecuteOptions) []Message {
	sessionID := opts.ResumeSessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return []Message{
		{Type: MessageSystem, Subtype: SubtypeInit, SessionID: sessionID, ModelName: "default"},
		{Type: MessageAssistant, SessionID: sessionID, Text: "acknowledged: " + opts.Prompt, Usage: &Usage{InputTokens: 500}},
		{Type: MessageResult, SessionID: sessionID, Success: true},
	}
}

// NewScriptedAdapter builds an in-process adapter that always replays the
// same fixed message sequence, for use by tests of components that
// consume an Adapter (executor, context tracker).
func NewScriptedAdapter(messages []Message) Adapter {
	return &inProcessAdapter{Scripts: func(ExecuteOptions) []Message { return messages }}
}
