package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/internal/worktree"
)

// PRSink opens a pull request after a git-worktree strategy pushes a
// branch. Grounded on internal/github's PAT-authenticated REST client;
// the git_worktree strategy only needs the one call, so it depends on
// this narrow interface rather than the whole github.Client surface.
type PRSink interface {
	CreatePullRequest(ctx context.Context, owner, repo, branch, base, title, body string) (url string, err error)
}

// GitWorktreeStrategy isolates each job in its own git worktree and
// branch, wrapping worktree.Manager for the worktree lifecycle and adding
// the commit/push/PR steps teardown needs on success.
type GitWorktreeStrategy struct {
	manager *worktree.Manager
	logger  *logger.Logger
	prSink  PRSink
	timeout time.Duration
}

// NewGitWorktreeStrategy creates a strategy bound to a shared worktree
// manager. prSink may be nil; CreatePR is then silently skipped with a
// warning log, since no sink was configured.
func NewGitWorktreeStrategy(manager *worktree.Manager, log *logger.Logger, prSink PRSink) *GitWorktreeStrategy {
	return &GitWorktreeStrategy{
		manager: manager,
		logger:  log.WithFields(zap.String("component", "workspace-git-worktree")),
		prSink:  prSink,
		timeout: 2 * time.Minute,
	}
}

func (s *GitWorktreeStrategy) Setup(ctx context.Context, agent fleetconfig.Agent, jobCtx JobContext) (SetupResult, error) {
	cfg := agent.GitWorktree
	branchName := expandBranchPattern(cfg.BranchPattern, agent, jobCtx)

	var workItemID, workItemTitle string
	if jobCtx.WorkItem != nil {
		workItemID = jobCtx.WorkItem.ID
		workItemTitle = jobCtx.WorkItem.Title
	}

	wt, err := s.manager.Create(ctx, worktree.CreateRequest{
		SessionID:            jobCtx.JobID,
		TaskID:               jobCtx.JobID,
		TaskTitle:            workItemTitle,
		RepositoryID:         agent.Name,
		RepositoryPath:       cfg.RepositoryPath,
		BaseBranch:           cfg.BaseBranch,
		WorktreeBranchPrefix: branchName + "-",
		PullBeforeWorktree:   true,
	})
	if err != nil {
		return SetupResult{}, fmt.Errorf("workspace: git worktree setup: %w", err)
	}

	env := map[string]string{
		"WORKTREE_PATH":       wt.Path,
		"WORKTREE_BRANCH":     wt.Branch,
		"WORKTREE_BASE_BRANCH": cfg.BaseBranch,
		"REPO_ROOT":           cfg.RepositoryPath,
		"WORKSPACE_STRATEGY":  "git_worktree",
	}
	if workItemID != "" {
		env["WORK_ITEM_ID"] = workItemID
	}
	if workItemTitle != "" {
		env["WORK_ITEM_TITLE"] = workItemTitle
	}

	return SetupResult{
		WorkingDirectory: wt.Path,
		BranchName:       wt.Branch,
		BaseBranch:       cfg.BaseBranch,
		Env:              env,
	}, nil
}

// Teardown commits and pushes remaining changes on a successful job (per
// the agent's PushOnSuccess setting), optionally opens a PR, then always
// force-removes the worktree — a job's working tree never outlives its
// job record, success or failure.
func (s *GitWorktreeStrategy) Teardown(ctx context.Context, agent fleetconfig.Agent, setup SetupResult, jobCtx JobContext, result JobResult) error {
	cfg := agent.GitWorktree

	if result.Success && cfg.PushOnSuccess && setup.WorkingDirectory != "" {
		if err := s.commitAndPush(ctx, setup, result); err != nil {
			s.logger.Warn("commit/push failed, worktree will still be removed",
				zap.String("job_id", jobCtx.JobID), zap.Error(err))
		} else if cfg.CreatePR {
			s.openPR(ctx, agent, setup, jobCtx, result)
		}
	}

	wt, err := s.manager.GetBySessionID(ctx, jobCtx.JobID)
	if err != nil {
		if errors.Is(err, worktree.ErrWorktreeNotFound) {
			return nil // setup never completed, nothing persisted to remove
		}
		return fmt.Errorf("workspace: git worktree teardown lookup: %w", err)
	}
	return s.manager.RemoveByID(ctx, wt.ID, false)
}

func (s *GitWorktreeStrategy) commitAndPush(ctx context.Context, setup SetupResult, result JobResult) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if changed, err := s.hasChanges(ctx, setup.WorkingDirectory); err != nil {
		return err
	} else if changed {
		message := commitMessage(result.Summary)
		if _, err := s.git(ctx, setup.WorkingDirectory, "add", "-A"); err != nil {
			return fmt.Errorf("git add: %w", err)
		}
		if _, err := s.git(ctx, setup.WorkingDirectory, "commit", "-m", message); err != nil {
			return fmt.Errorf("git commit: %w", err)
		}
	}

	if _, err := s.git(ctx, setup.WorkingDirectory, "push", "-u", "origin", setup.BranchName); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

func (s *GitWorktreeStrategy) hasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := s.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (s *GitWorktreeStrategy) openPR(ctx context.Context, agent fleetconfig.Agent, setup SetupResult, jobCtx JobContext, result JobResult) {
	if s.prSink == nil {
		s.logger.Warn("createPr requested but no PR sink configured", zap.String("job_id", jobCtx.JobID))
		return
	}
	owner, repo := splitOwnerRepo(agent.GitWorktree.RepositoryPath)
	base := agent.GitWorktree.PRBaseBranch
	if base == "" {
		base = setup.BaseBranch
	}
	title := prTitle(jobCtx)
	url, err := s.prSink.CreatePullRequest(ctx, owner, repo, setup.BranchName, base, title, result.Summary)
	if err != nil {
		s.logger.Warn("PR creation failed", zap.String("job_id", jobCtx.JobID), zap.Error(err))
		return
	}
	s.logger.Info("opened pull request", zap.String("job_id", jobCtx.JobID), zap.String("url", url))
}

func (s *GitWorktreeStrategy) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

func commitMessage(summary string) string {
	if summary == "" {
		return "Automated job commit"
	}
	if len(summary) > 72 {
		return summary[:72]
	}
	return summary
}

func prTitle(jobCtx JobContext) string {
	if jobCtx.WorkItem != nil && jobCtx.WorkItem.Title != "" {
		return jobCtx.WorkItem.Title
	}
	return fmt.Sprintf("fleet: job %s", jobCtx.JobID)
}

// splitOwnerRepo extracts "owner/repo" from a local path whose last two
// segments mirror the GitHub slug (the conventional clone layout
// <root>/<owner>/<repo>).
func splitOwnerRepo(repositoryPath string) (owner, repo string) {
	parts := strings.Split(strings.Trim(repositoryPath, "/"), "/")
	if len(parts) < 2 {
		return "", strings.TrimSuffix(repositoryPath, "/")
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

var _ Strategy = (*GitWorktreeStrategy)(nil)
