// Package api defines the wire-level data types shared across the fleet
// control plane: jobs, work items, and the events the fleet manager emits.
package api

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobTimedOut  JobStatus = "timed_out"
)

// TriggerSource identifies what caused a Job to be created.
type TriggerSource string

const (
	TriggerScheduler   TriggerSource = "scheduler"
	TriggerChat        TriggerSource = "chat"
	TriggerWebhook     TriggerSource = "webhook"
	TriggerManual      TriggerSource = "manual"
	TriggerWorkSource  TriggerSource = "work_source"
)

// TokenStats tracks cumulative token usage and handoff count for a Job.
type TokenStats struct {
	CumulativeInput int `json:"cumulative_input"`
	LastOutput      int `json:"last_output"`
	HandoffCount    int `json:"handoff_count"`
}

// Job is a single execution of an agent triggered by a single event.
// Its id is stable across handoffs, even when a context handoff restarts
// the underlying runtime mid-job.
type Job struct {
	ID               string        `json:"id"`
	AgentName        string        `json:"agent_name"`
	ScheduleName     string        `json:"schedule_name,omitempty"`
	TriggerSource    TriggerSource `json:"trigger_source"`
	Prompt           string        `json:"prompt"`
	ResumeSessionID  string        `json:"resume_session_id,omitempty"`
	Status           JobStatus     `json:"status"`
	SessionID        string        `json:"session_id,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	Tokens           TokenStats    `json:"tokens"`
	Summary          string        `json:"summary,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// OutputEntryType is the discriminator for a streamed job output entry.
type OutputEntryType string

const (
	OutputSystem      OutputEntryType = "system"
	OutputAssistant   OutputEntryType = "assistant"
	OutputToolUse     OutputEntryType = "tool_use"
	OutputToolResult  OutputEntryType = "tool_result"
	OutputResult      OutputEntryType = "result"
)

// System entry subtypes. The executor must never omit handoff_document and
// context_handoff when a handoff actually occurs.
const (
	SubtypeInit             = "init"
	SubtypeCompactBoundary  = "compact_boundary"
	SubtypeStatus           = "status"
	SubtypeHandoffDocument  = "handoff_document"
	SubtypeContextHandoff   = "context_handoff"
)

// OutputEntry is one line of a job's streamed output log.
type OutputEntry struct {
	Type      OutputEntryType        `json:"type"`
	Subtype   string                 `json:"subtype,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// WorkItemPriority is the normalised priority of a WorkItem.
type WorkItemPriority string

const (
	PriorityCritical WorkItemPriority = "critical"
	PriorityHigh     WorkItemPriority = "high"
	PriorityMedium   WorkItemPriority = "medium"
	PriorityLow      WorkItemPriority = "low"
)

// WorkItem is the normalised representation of an externally tracked task.
type WorkItem struct {
	ID         string                 `json:"id"` // <source>-<externalId>
	Source     string                 `json:"source"`
	ExternalID string                 `json:"external_id"`
	Title      string                 `json:"title"`
	Description string                `json:"description"`
	Priority   WorkItemPriority       `json:"priority"`
	Labels     []string               `json:"labels"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	URL        string                 `json:"url,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// InferPriority maps a work item's labels to a priority using a
// case-insensitive label tiering (critical/p0/urgent > high/p1/important >
// low/p3 > medium default).
func InferPriority(labels []string) WorkItemPriority {
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		seen[normalizeLabel(l)] = true
	}
	for _, l := range []string{"critical", "p0", "urgent"} {
		if seen[l] {
			return PriorityCritical
		}
	}
	for _, l := range []string{"high", "p1", "important"} {
		if seen[l] {
			return PriorityHigh
		}
	}
	for _, l := range []string{"low", "p3"} {
		if seen[l] {
			return PriorityLow
		}
	}
	return PriorityMedium
}

func normalizeLabel(l string) string {
	out := make([]byte, 0, len(l))
	for i := 0; i < len(l); i++ {
		c := l[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// FleetEvent subjects published by the Fleet Manager.
const (
	EventJobQueued            = "job.queued"
	EventJobStarted           = "job.started"
	EventJobCompleted         = "job.completed"
	EventJobFailed            = "job.failed"
	EventJobOutput            = "job.output"
	EventChatMessageHandled   = "chat.message.handled"
	EventChatMessageError     = "chat.message.error"
	EventSessionLifecycle     = "session.lifecycle"
	EventContextHandoffStart  = "context.handoff.start"
	EventContextHandoffDone   = "context.handoff.complete"
	EventWebhookReceived      = "webhook.received"
	EventWorkSourceClaimFailed = "work_source.claim_failed"
)

// TriggerResult is returned by Fleet Manager's trigger() and by the Job
// Executor's execute().
type TriggerResult struct {
	Success        bool    `json:"success"`
	JobID          string  `json:"job_id"`
	SessionID      string  `json:"session_id,omitempty"`
	Summary        string  `json:"summary,omitempty"`
	Error          string  `json:"error,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}
