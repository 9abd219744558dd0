package hooks

// SessionInfo accompanies both the context_threshold and session_start
// payloads.
type SessionInfo struct {
	SessionID          string `json:"session_id"`
	AgentName          string `json:"agent_name"`
	JobID              string `json:"job_id"`
	WorkingDirectory   string `json:"working_directory"`
	WorktreePath       string `json:"worktree_path,omitempty"`
	BranchName         string `json:"branch_name,omitempty"`
	IsContinuation     bool   `json:"is_continuation,omitempty"`
	PreviousSessionID  string `json:"previous_session_id,omitempty"`
	HandoffCount       int    `json:"handoff_count,omitempty"`
}

// ContextInfo is the usage snapshot carried by the context_threshold
// payload.
type ContextInfo struct {
	InputTokens      int     `json:"input_tokens"`
	ContextWindow    int     `json:"context_window"`
	UsagePercent     float64 `json:"usage_percent"`
	RemainingPercent float64 `json:"remaining_percent"`
	ModelName        string  `json:"model_name"`
}

// ContextThresholdPayload is fired at on_context_threshold.
type ContextThresholdPayload struct {
	Event           string      `json:"event"`
	Context         ContextInfo `json:"context"`
	Session         SessionInfo `json:"session"`
	OriginalPrompt  string      `json:"original_prompt"`
}

// SessionStartPayload is fired at on_session_start. For shell
// hooks, stdout captured here is prepended to the continuation prompt.
type SessionStartPayload struct {
	Event   string      `json:"event"`
	Session SessionInfo `json:"session"`
	Prompt  string      `json:"prompt"`
}

// LifecyclePayload is fired for completed/failed/timeout/cancelled events
// (the after_run / on_error slots).
type LifecyclePayload struct {
	Event   string      `json:"event"`
	Session SessionInfo `json:"session"`
	Summary string      `json:"summary,omitempty"`
	Error   string       `json:"error,omitempty"`
}
