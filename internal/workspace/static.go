package workspace

import (
	"context"

	"github.com/ikido/fleetctl/internal/fleetconfig"
)

// StaticStrategy is the pass-through workspace_strategy: Setup returns the
// agent's configured working directory unchanged and Teardown is a no-op.
type StaticStrategy struct{}

func NewStaticStrategy() *StaticStrategy { return &StaticStrategy{} }

func (s *StaticStrategy) Setup(_ context.Context, agent fleetconfig.Agent, _ JobContext) (SetupResult, error) {
	return SetupResult{
		WorkingDirectory: agent.WorkingDirectory,
		Env: map[string]string{
			"WORKSPACE_STRATEGY": "static",
		},
	}, nil
}

func (s *StaticStrategy) Teardown(_ context.Context, _ fleetconfig.Agent, _ SetupResult, _ JobContext, _ JobResult) error {
	return nil
}

var _ Strategy = (*StaticStrategy)(nil)
