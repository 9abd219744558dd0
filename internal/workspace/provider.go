package workspace

import (
	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/internal/worktree"
)

// Resolver picks a job's Strategy from its agent's configured
// workspace_strategy, sharing one worktree manager across every
// git_worktree agent in the fleet.
type Resolver struct {
	static     *StaticStrategy
	gitWorktree *GitWorktreeStrategy
}

// NewResolver builds a Resolver. manager/prSink may be nil when no agent
// in the fleet uses workspace_strategy=git_worktree.
func NewResolver(manager *worktree.Manager, log *logger.Logger, prSink PRSink) *Resolver {
	r := &Resolver{static: NewStaticStrategy()}
	if manager != nil {
		r.gitWorktree = NewGitWorktreeStrategy(manager, log, prSink)
	}
	return r
}

// For returns the Strategy bound to an agent's workspace_strategy. An
// agent configured for git_worktree without a worktree manager available
// (worktree.enabled=false) falls back to static rather than failing every
// job outright — the agent still runs, just without isolation.
func (r *Resolver) For(agent fleetconfig.Agent) Strategy {
	if agent.WorkspaceStrategy == fleetconfig.WorkspaceGitWorktree && r.gitWorktree != nil {
		return r.gitWorktree
	}
	return r.static
}
