package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/ikido/fleetctl/internal/fleetconfig"
)

// ExecuteOptions parameterises a single runtime invocation.
type ExecuteOptions struct {
	Prompt           string
	Agent            fleetconfig.Agent
	ResumeSessionID  string
	WorkingDirectory string
	Env              map[string]string
	ToolServerAddr   string // in-process MCP endpoint injected per job
}

// Adapter produces an asynchronous stream of Message given a prompt, an
// agent, and an optional resume session id. Implementations are backend
// discriminators: the value returned by Discriminator() becomes part of a
// session record's runtime_context so a stored session is only reused
// against the backend that created it.
type Adapter interface {
	Discriminator() string
	Execute(ctx context.Context, opts ExecuteOptions) (<-chan Message, error)
}

// Factory constructs an Adapter for an agent's runtime_type.
type Factory func(fleetconfig.Agent) (Adapter, error)

var (
	registryMu sync.Mutex
	registry   = map[fleetconfig.RuntimeKind]Factory{}
)

// Register adds a named runtime_type to the registry. Called from package
// init of each concrete backend (in_process, subprocess).
func Register(kind fleetconfig.RuntimeKind, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// New constructs the Adapter configured for agent's runtime_type.
func New(agent fleetconfig.Agent) (Adapter, error) {
	registryMu.Lock()
	factory, ok := registry[agent.RuntimeType]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("runtime: no adapter registered for runtime_type %q", agent.RuntimeType)
	}
	return factory(agent)
}
