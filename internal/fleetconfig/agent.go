// Package fleetconfig holds the validated, immutable configuration types
// the fleet control plane is constructed from: agents, their schedules,
// and their lifecycle hooks. Values here are produced once at Fleet
// Manager initialise and never mutated at runtime.
package fleetconfig

import "fmt"

// PermissionMode controls how much autonomy an agent's runtime has.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "accept_edits"
	PermissionBypass      PermissionMode = "bypass"
	PermissionPlan        PermissionMode = "plan"
	PermissionDelegate    PermissionMode = "delegate"
	PermissionDontAsk     PermissionMode = "dont_ask"
)

// SessionMode controls whether an agent keeps one long-lived session or
// starts fresh on every trigger.
type SessionMode string

const (
	SessionPersistent SessionMode = "persistent"
	SessionEphemeral  SessionMode = "ephemeral"
)

// WorkspaceStrategyKind selects the pre/post job workspace wrapper.
type WorkspaceStrategyKind string

const (
	WorkspaceStatic      WorkspaceStrategyKind = "static"
	WorkspaceGitWorktree WorkspaceStrategyKind = "git_worktree"
)

// RuntimeKind selects how the LLM runtime is driven.
type RuntimeKind string

const (
	RuntimeInProcess RuntimeKind = "in_process"
	RuntimeSubprocess RuntimeKind = "subprocess"
)

// SystemPrompt is either a plain string or a {preset, append} pair.
type SystemPrompt struct {
	Plain  string `mapstructure:"plain"`
	Preset string `mapstructure:"preset"`
	Append string `mapstructure:"append"`
}

// ChatFilterConfig restricts which channels/threads/mentions an agent
// responds to for a given chat platform.
type ChatFilterConfig struct {
	Platform        string   `mapstructure:"platform"`
	RequireMention  bool     `mapstructure:"requireMention"`
	AllowedChannels []string `mapstructure:"allowedChannels"`
	CommandPrefix   string   `mapstructure:"commandPrefix"`
}

// GitWorktreeConfig configures the git_worktree workspace strategy. Only
// consulted when an agent's WorkspaceStrategy is WorkspaceGitWorktree.
type GitWorktreeConfig struct {
	// RepositoryPath is the main repository's local path; the worktree is
	// cut from it.
	RepositoryPath string `mapstructure:"repositoryPath"`
	// WorktreeDir names the directory under RepositoryPath worktrees are
	// created in (default "worktrees").
	WorktreeDir string `mapstructure:"worktreeDir"`
	// BaseBranch is the branch worktrees are created from (default "main").
	BaseBranch string `mapstructure:"baseBranch"`
	// BranchPattern templates the start of the branch name. Placeholders:
	// {agent}, {work_item}, {schedule}, {job_id}, {date}. The worktree
	// manager appends "-", the sanitized work-item title (or the job id)
	// cut to 20 characters, "-" and a random three-character suffix.
	BranchPattern string `mapstructure:"branchPattern"`
	// PushOnSuccess commits and pushes the branch at teardown when the
	// job succeeded.
	PushOnSuccess bool `mapstructure:"pushOnSuccess"`
	// CreatePR opens a pull request after pushing (requires PushOnSuccess
	// and a configured GitHub token).
	CreatePR bool `mapstructure:"createPr"`
	// PRBaseBranch overrides BaseBranch as the PR's base, if different.
	PRBaseBranch string `mapstructure:"prBaseBranch"`
}

// Agent is a named, configuration-defined unit of the fleet.
type Agent struct {
	Name              string                      `mapstructure:"name"`
	Model             string                      `mapstructure:"model"`
	SystemPrompt      SystemPrompt                `mapstructure:"systemPrompt"`
	PermissionMode    PermissionMode              `mapstructure:"permissionMode"`
	AllowedTools      []string                    `mapstructure:"allowedTools"`
	DeniedTools       []string                    `mapstructure:"deniedTools"`
	MaxTurns          int                         `mapstructure:"maxTurns"`
	SessionMode       SessionMode                 `mapstructure:"sessionMode"`
	ContextThreshold  float64                     `mapstructure:"contextThreshold"`
	WorkingDirectory  string                      `mapstructure:"workingDirectory"`
	WorkspaceStrategy WorkspaceStrategyKind       `mapstructure:"workspaceStrategy"`
	RuntimeType       RuntimeKind                 `mapstructure:"runtimeType"`
	// UseDocker runs a subprocess runtime_type inside a container instead
	// of as a bare host process, using DockerImage. Ignored for
	// runtime_type=in_process. The docker daemon itself is reached via the
	// "docker" CLI on PATH, not the docker engine API — container
	// management is an external collaborator (§1), and this is the thin
	// capability interface onto it.
	UseDocker   bool   `mapstructure:"useDocker"`
	DockerImage string `mapstructure:"dockerImage"`
	Env         map[string]string `mapstructure:"env"`
	MCPServers        map[string]MCPServerConfig  `mapstructure:"mcpServers"`
	Schedules         map[string]Schedule         `mapstructure:"schedules"`
	Chat              []ChatFilterConfig          `mapstructure:"chat"`
	Hooks             HookSlots                   `mapstructure:"hooks"`
	MaxHandoffs       int                         `mapstructure:"maxHandoffs"`
	MaxConcurrent     int                         `mapstructure:"maxConcurrent"`
	GitWorktree       GitWorktreeConfig           `mapstructure:"gitWorktree"`
}

// MCPServerConfig is an opaque config map handed to the runtime adapter
// to wire up a named MCP server.
type MCPServerConfig struct {
	Command string            `mapstructure:"command"`
	URL     string            `mapstructure:"url"`
	Env     map[string]string `mapstructure:"env"`
}

const (
	defaultContextThreshold = 0.10
	defaultMaxHandoffs      = 3
	defaultMaxTurns         = 0 // unlimited
)

// WithDefaults returns a copy of a with zero-valued fields replaced by
// their documented defaults.
func (a Agent) WithDefaults() Agent {
	if a.ContextThreshold <= 0 {
		a.ContextThreshold = defaultContextThreshold
	}
	if a.MaxHandoffs <= 0 {
		a.MaxHandoffs = defaultMaxHandoffs
	}
	if a.SessionMode == "" {
		a.SessionMode = SessionPersistent
	}
	if a.WorkspaceStrategy == "" {
		a.WorkspaceStrategy = WorkspaceStatic
	}
	if a.RuntimeType == "" {
		a.RuntimeType = RuntimeInProcess
	}
	if a.PermissionMode == "" {
		a.PermissionMode = PermissionDefault
	}
	if a.MaxConcurrent <= 0 {
		a.MaxConcurrent = 1
	}
	if a.GitWorktree.WorktreeDir == "" {
		a.GitWorktree.WorktreeDir = "worktrees"
	}
	if a.GitWorktree.BaseBranch == "" {
		a.GitWorktree.BaseBranch = "main"
	}
	if a.GitWorktree.BranchPattern == "" {
		a.GitWorktree.BranchPattern = "fleet/{agent}/{job_id}"
	}
	if a.UseDocker && a.DockerImage == "" {
		a.DockerImage = "fleetctl/agent-runtime:latest"
	}
	return a
}

// Validate checks invariants that must hold before an agent participates
// in a fleet. A failure here refuses fleet initialisation rather than
// disabling just this agent.
func (a Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent.name: must not be empty")
	}
	if a.WorkingDirectory == "" {
		return fmt.Errorf("agent %q: workingDirectory must not be empty", a.Name)
	}
	if a.ContextThreshold <= 0 || a.ContextThreshold > 1 {
		return fmt.Errorf("agent %q: contextThreshold must be in (0,1]", a.Name)
	}
	switch a.WorkspaceStrategy {
	case WorkspaceStatic, "":
	case WorkspaceGitWorktree:
		if a.GitWorktree.RepositoryPath == "" {
			return fmt.Errorf("agent %q: gitWorktree.repositoryPath required for workspaceStrategy=git_worktree", a.Name)
		}
	default:
		return fmt.Errorf("agent %q: unknown workspaceStrategy %q", a.Name, a.WorkspaceStrategy)
	}
	switch a.RuntimeType {
	case RuntimeInProcess, RuntimeSubprocess, "":
	default:
		return fmt.Errorf("agent %q: unknown runtimeType %q", a.Name, a.RuntimeType)
	}
	return nil
}
