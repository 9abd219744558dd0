package worktree

import "time"

// Worktree represents a Git worktree backing one job's isolated workspace.
// It is cached and persisted keyed by SessionID. The git_worktree
// workspace strategy sets SessionID to the job id, so every session of a
// job, including one started by a handoff, resolves to the same worktree.
type Worktree struct {
	// ID is the unique identifier for this worktree record.
	ID string `json:"id"`

	// SessionID is the key the worktree is cached and looked up by (the
	// job id, as the git_worktree workspace strategy sets it).
	SessionID string `json:"session_id"`

	// TaskID is the job id this worktree was created for (1:1).
	TaskID string `json:"task_id"`

	// RepositoryID identifies the agent's configured repository.
	RepositoryID string `json:"repository_id"`

	// RepositoryPath is the local filesystem path to the main repository,
	// stored for recreation if the worktree directory is lost.
	RepositoryPath string `json:"repository_path"`

	// Path is the absolute filesystem path to the worktree directory.
	Path string `json:"path"`

	// Branch is the Git branch name checked out in this worktree.
	Branch string `json:"branch"`

	// BaseBranch is the branch this worktree was created from.
	BaseBranch string `json:"base_branch"`

	// Status indicates the current state of the worktree.
	// Valid values: active, merged, deleted.
	Status string `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// CreateRequest contains the parameters for creating or resuming a worktree.
type CreateRequest struct {
	// SessionID is the cache/store lookup key; the git_worktree workspace
	// strategy passes the job id. When empty, the worktree is neither
	// cached nor persisted.
	SessionID string

	// TaskID is the owning job's id (required).
	TaskID string

	// TaskTitle, when set, drives semantic directory/branch naming instead
	// of the raw task id.
	TaskTitle string

	// RepositoryID identifies the agent's configured repository.
	RepositoryID string

	// RepositoryPath is the local path to the main repository (required).
	RepositoryPath string

	// BaseBranch is the branch to base the worktree on (required).
	BaseBranch string

	// WorktreeBranchPrefix overrides the manager's configured branch prefix.
	WorktreeBranchPrefix string

	// WorktreeID, when set, requests reuse of a specific existing worktree
	// (session resumption after a process restart).
	WorktreeID string

	// PullBeforeWorktree requests a best-effort `git pull` of BaseBranch
	// before the worktree is cut, so a stale local base branch doesn't
	// shadow upstream changes.
	PullBeforeWorktree bool
}

// Validate checks the request's required fields.
func (r *CreateRequest) Validate() error {
	if r.TaskID == "" {
		return ErrInvalidSession
	}
	if r.RepositoryPath == "" {
		return ErrRepoNotGit
	}
	if r.BaseBranch == "" {
		return ErrInvalidBaseBranch
	}
	return nil
}

// StatusActive is the status for an active, usable worktree.
const StatusActive = "active"

// StatusMerged is the status for a worktree whose branch has been merged.
const StatusMerged = "merged"

// StatusDeleted is the status for a deleted worktree.
const StatusDeleted = "deleted"
