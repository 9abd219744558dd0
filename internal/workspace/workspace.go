// Package workspace implements the Workspace Strategy contract: the
// per-job pre/post lifecycle wrapper the Job Executor calls around a run,
// either a pass-through (static) or an isolated git worktree+branch.
package workspace

import (
	"context"
	"strings"
	"time"

	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/pkg/api"
)

// JobContext carries the identifying fields a workspace strategy needs to
// compute a branch name and inject env vars. The job executor builds one
// per job before calling Setup.
type JobContext struct {
	JobID        string
	AgentName    string
	ScheduleName string
	WorkItem     *api.WorkItem
}

// SetupResult is returned by Setup and handed back unchanged to Teardown.
type SetupResult struct {
	WorkingDirectory string
	BranchName       string
	BaseBranch       string
	Env              map[string]string
}

// JobResult summarizes a finished job for Teardown's commit/push decision.
type JobResult struct {
	Success bool
	Summary string
}

// Strategy is the workspace contract an agent's workspace_strategy
// selects: static or git_worktree.
type Strategy interface {
	Setup(ctx context.Context, agent fleetconfig.Agent, jobCtx JobContext) (SetupResult, error)
	Teardown(ctx context.Context, agent fleetconfig.Agent, setup SetupResult, jobCtx JobContext, result JobResult) error
}

// expandBranchPattern substitutes the placeholders documented for
// workspace_strategy=git_worktree branch naming: agent, work_item,
// schedule, job_id, date.
func expandBranchPattern(pattern string, agent fleetconfig.Agent, jobCtx JobContext) string {
	workItem := ""
	if jobCtx.WorkItem != nil {
		workItem = jobCtx.WorkItem.ExternalID
		if workItem == "" {
			workItem = jobCtx.WorkItem.ID
		}
	}
	replacer := strings.NewReplacer(
		"{agent}", sanitizeBranchComponent(agent.Name),
		"{work_item}", sanitizeBranchComponent(workItem),
		"{schedule}", sanitizeBranchComponent(jobCtx.ScheduleName),
		"{job_id}", sanitizeBranchComponent(jobCtx.JobID),
		"{date}", time.Now().UTC().Format("20060102"),
	)
	return replacer.Replace(pattern)
}

func sanitizeBranchComponent(s string) string {
	if s == "" {
		return "na"
	}
	b := strings.Builder{}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '/':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-/")
	if out == "" {
		return "na"
	}
	return out
}
