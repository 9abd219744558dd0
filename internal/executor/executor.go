// Package executor implements the Job Executor: the handoff loop that
// drives a single job from workspace setup through the runtime's message
// stream, firing lifecycle hooks and persisting the session and job
// record, to workspace teardown.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/ctxtrack"
	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/internal/hooks"
	"github.com/ikido/fleetctl/internal/jobstore"
	"github.com/ikido/fleetctl/internal/responder"
	"github.com/ikido/fleetctl/internal/runtime"
	"github.com/ikido/fleetctl/internal/session"
	"github.com/ikido/fleetctl/internal/workspace"
	"github.com/ikido/fleetctl/pkg/api"
)

// ToolProvider starts a per-job dynamic tool server and returns the
// address the runtime adapter should be pointed at. Nil when no tool
// server is wired; Execute then runs without ToolServerAddr.
type ToolProvider interface {
	Start(ctx context.Context, jobID string, agent fleetconfig.Agent) (addr string, stop func(), err error)
}

// Executor runs jobs for every agent in the fleet. One Executor is shared
// across the fleet; its state is entirely in the stores it's given.
type Executor struct {
	jobs       *jobstore.Store
	sessions   *session.Store
	workspaces *workspace.Resolver
	hookPipe   *hooks.Pipeline
	tools      ToolProvider
	log        *logger.Logger
}

// New constructs an Executor. tools may be nil.
func New(jobs *jobstore.Store, sessions *session.Store, workspaces *workspace.Resolver, hookPipe *hooks.Pipeline, tools ToolProvider, log *logger.Logger) *Executor {
	return &Executor{
		jobs:       jobs,
		sessions:   sessions,
		workspaces: workspaces,
		hookPipe:   hookPipe,
		tools:      tools,
		log:        log.WithFields(zap.String("component", "job_executor")),
	}
}

// Options parameterises one Execute call.
type Options struct {
	Agent           fleetconfig.Agent
	Prompt          string
	ResumeSessionID string
	TriggerSource   api.TriggerSource
	ScheduleName    string
	WorkItem        *api.WorkItem
	// Responder receives streamed assistant text as it arrives. Nil for
	// triggers with no destination to post to (e.g. scheduler-only agents).
	Responder *responder.Responder
}

// Execute runs opts to completion, including any context-threshold
// handoffs, and returns once the job has reached a terminal status. A
// non-nil error is only returned for a failure in the job record store
// itself (no job id could be minted); every other failure is reported
// through the returned TriggerResult so the caller's exit-code mapping
// and job record stay in sync.
func (e *Executor) Execute(ctx context.Context, opts Options) (api.TriggerResult, error) {
	start := time.Now()
	agent := opts.Agent.WithDefaults()

	jobID, err := e.jobs.Create(api.Job{
		AgentName:       agent.Name,
		ScheduleName:    opts.ScheduleName,
		TriggerSource:   opts.TriggerSource,
		Prompt:          opts.Prompt,
		ResumeSessionID: opts.ResumeSessionID,
	})
	if err != nil {
		return api.TriggerResult{}, fmt.Errorf("create job record: %w", err)
	}
	log := e.log.WithFields(zap.String("job_id", jobID), zap.String("agent", agent.Name))

	jobCtx := workspace.JobContext{JobID: jobID, AgentName: agent.Name, ScheduleName: opts.ScheduleName, WorkItem: opts.WorkItem}
	strategy := e.workspaces.For(agent)

	setup, err := strategy.Setup(ctx, agent, jobCtx)
	if err != nil {
		return e.finish(ctx, log, jobID, agent, workspace.SetupResult{}, start,
			api.JobFailed, "workspace_setup_failed: "+err.Error(), 0, session.RuntimeContext{}, "", true)
	}
	agent.WorkingDirectory = setup.WorkingDirectory

	adapter, err := runtime.New(agent)
	if err != nil {
		_ = strategy.Teardown(ctx, agent, setup, jobCtx, workspace.JobResult{Success: false, Summary: "no runtime adapter"})
		return e.finish(ctx, log, jobID, agent, setup, start,
			api.JobFailed, "runtime_stream_failed: "+err.Error(), 0, session.RuntimeContext{}, "", true)
	}

	toolServerAddr := ""
	if e.tools != nil {
		addr, stop, terr := e.tools.Start(ctx, jobID, agent)
		if terr != nil {
			log.Warn("tool server unavailable, running without dynamic tools", zap.Error(terr))
		} else {
			toolServerAddr = addr
			defer stop()
		}
	}

	rtCtx := session.RuntimeContext{Backend: adapter.Discriminator()}
	if dockerAware, ok := adapter.(interface{ RunsInDocker() bool }); ok {
		rtCtx.Docker = dockerAware.RunsInDocker()
	}
	sessionID := e.resumeSessionID(log, agent, setup.WorkingDirectory, rtCtx, opts.ResumeSessionID)

	if err := e.jobs.UpdateStatus(jobID, api.JobRunning, jobstore.StatusFields{}); err != nil {
		log.Warn("mark job running failed", zap.Error(err))
	}

	originalPrompt := opts.Prompt
	promptPrefix := ""
	currentPrompt := originalPrompt

	stream, err := adapter.Execute(ctx, runtime.ExecuteOptions{
		Prompt: currentPrompt, Agent: agent, ResumeSessionID: sessionID,
		WorkingDirectory: setup.WorkingDirectory, Env: setup.Env, ToolServerAddr: toolServerAddr,
	})
	if err != nil {
		_ = strategy.Teardown(ctx, agent, setup, jobCtx, workspace.JobResult{Success: false, Summary: "runtime did not start"})
		return e.finish(ctx, log, jobID, agent, setup, start,
			api.JobFailed, "runtime_stream_failed: "+err.Error(), 0, rtCtx, sessionID, true)
	}

	tracker := ctxtrack.New(agent.ContextThreshold)
	handoffs := 0
	lastOutputTokens := 0
	var lastResult *runtime.Message
	var loopErr error

outer:
	for {
		handoffThisRound := false

		for msg := range stream {
			if err := e.jobs.AppendOutput(jobID, projectMessage(msg)); err != nil {
				log.Warn("append output failed", zap.Error(err))
			}
			tracker.Observe(msg)
			if msg.Type == runtime.MessageAssistant && msg.Usage != nil {
				lastOutputTokens = msg.Usage.OutputTokens
			}

			if msg.Type == runtime.MessageSystem && msg.Subtype == runtime.SubtypeInit {
				sessionID = msg.SessionID
				promptPrefix = e.fireSessionStart(ctx, agent, jobCtx, setup, sessionID, handoffs, currentPrompt)
			}

			if opts.Responder != nil && msg.Type == runtime.MessageAssistant && msg.Text != "" {
				if serr := opts.Responder.AddMessageAndSend(ctx, msg.Text); serr != nil {
					log.Warn("responder send failed", zap.Error(serr))
				}
			}

			if msg.IsTerminal() {
				m := msg
				lastResult = &m
				break
			}

			if tracker.ShouldHandoff() && handoffs < agent.MaxHandoffs {
				handoffThisRound = true
				doc, newStream, herr := e.handoff(ctx, adapter, agent, jobID, sessionID, originalPrompt, promptPrefix, tracker, setup)
				if herr != nil {
					loopErr = herr
					break
				}
				handoffs++
				tracker.Reset()
				sessionID = ""
				currentPrompt = promptPrefix + continuationPrompt(doc, originalPrompt)
				stream = newStream
				break
			}

			if ctx.Err() != nil {
				loopErr = ctx.Err()
				break
			}
		}

		if loopErr != nil {
			break outer
		}
		if !handoffThisRound {
			break outer
		}
	}

	if opts.Responder != nil {
		if ferr := opts.Responder.Flush(ctx); ferr != nil {
			log.Warn("responder flush failed", zap.Error(ferr))
		}
	}

	status, summary, errMsg := classify(loopErr, lastResult, handoffs, agent.MaxHandoffs)
	_ = strategy.Teardown(ctx, agent, setup, jobCtx, workspace.JobResult{Success: status == api.JobCompleted, Summary: summary})

	return e.finish(ctx, log, jobID, agent, setup, start, status, errMsg, handoffs, rtCtx, sessionID, false,
		withTokens(tracker.InputTokens(), lastOutputTokens), withSummary(summary))
}

// resumeSessionID implements validate_and_resume: an explicit resume id
// wins outright; otherwise a persistent-mode agent's stored session is
// reused only if it is still valid for the job's working directory and
// runtime backend. Expiry is enforced separately by periodic cleanup, not
// here, so ttl is zero.
func (e *Executor) resumeSessionID(log *logger.Logger, agent fleetconfig.Agent, workingDirectory string, rt session.RuntimeContext, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if agent.SessionMode != fleetconfig.SessionPersistent {
		return ""
	}
	rec, err := e.sessions.Get(agent.Name)
	if err != nil || rec == nil {
		return ""
	}
	if reason := rec.IsReusable(workingDirectory, rt, time.Now().UTC(), 0); reason != session.InvalidNone {
		log.Debug("stored session not reusable", zap.String("reason", string(reason)))
		return ""
	}
	return rec.SessionID
}

// handoff runs the built-in or hook-defined handoff subprocedure and
// starts the continuation runtime call. It always writes the
// handoff_document and context_handoff output entries the caller
// guarantees for a real handoff, even when the sub-query itself fails.
// promptPrefix is prepended to the continuation's prompt.
func (e *Executor) handoff(ctx context.Context, adapter runtime.Adapter, agent fleetconfig.Agent, jobID, sessionID, originalPrompt, promptPrefix string, tracker *ctxtrack.Tracker, setup workspace.SetupResult) (string, <-chan runtime.Message, error) {
	info := hooks.SessionInfo{
		SessionID: sessionID, AgentName: agent.Name, JobID: jobID,
		WorkingDirectory: setup.WorkingDirectory, BranchName: setup.BranchName,
		IsContinuation: true,
	}
	ctxInfo := hooks.ContextInfo{
		InputTokens: tracker.InputTokens(), ContextWindow: tracker.ContextWindow(),
		UsagePercent: tracker.UsagePercent(), RemainingPercent: tracker.RemainingPercent(),
		ModelName: tracker.ModelName(),
	}

	onThreshold := agent.Hooks.Slot(fleetconfig.HookContextThreshold)
	if len(onThreshold) > 0 {
		payload := hooks.ContextThresholdPayload{
			Event: string(fleetconfig.HookContextThreshold), Context: ctxInfo, Session: info, OriginalPrompt: originalPrompt,
		}
		e.hookPipe.Fire(ctx, fleetconfig.HookContextThreshold, onThreshold, payload)
	}

	doc, err := e.runSubQuery(ctx, adapter, agent, sessionID, handoffPrompt())
	if err != nil {
		_ = e.jobs.AppendOutput(jobID, api.OutputEntry{
			Type: api.OutputSystem, Subtype: api.SubtypeContextHandoff,
			Content: "context threshold reached, restarting session",
			Data:    map[string]interface{}{"input_tokens": tracker.InputTokens(), "context_window": tracker.ContextWindow(), "sub_query_error": err.Error()},
		})
		_ = e.jobs.AppendOutput(jobID, api.OutputEntry{
			Type: api.OutputSystem, Subtype: api.SubtypeHandoffDocument,
			Content: "handoff sub-query failed, continuing without a summary",
		})
		stream, serr := adapter.Execute(ctx, runtime.ExecuteOptions{
			Prompt: promptPrefix + originalPrompt, Agent: agent, WorkingDirectory: setup.WorkingDirectory, Env: setup.Env,
		})
		return "", stream, serr
	}

	_ = e.jobs.AppendOutput(jobID, api.OutputEntry{
		Type: api.OutputSystem, Subtype: api.SubtypeContextHandoff,
		Content: "context threshold reached, restarting session",
		Data:    map[string]interface{}{"input_tokens": tracker.InputTokens(), "context_window": tracker.ContextWindow()},
	})
	_ = e.jobs.AppendOutput(jobID, api.OutputEntry{Type: api.OutputSystem, Subtype: api.SubtypeHandoffDocument, Content: doc})

	stream, err := adapter.Execute(ctx, runtime.ExecuteOptions{
		Prompt: promptPrefix + continuationPrompt(doc, originalPrompt), Agent: agent, WorkingDirectory: setup.WorkingDirectory, Env: setup.Env,
	})
	return doc, stream, err
}

// runSubQuery drives a short-lived runtime call to completion and
// collects its assistant text, used for the handoff summary.
func (e *Executor) runSubQuery(ctx context.Context, adapter runtime.Adapter, agent fleetconfig.Agent, resumeSessionID, prompt string) (string, error) {
	stream, err := adapter.Execute(ctx, runtime.ExecuteOptions{
		Prompt: prompt, Agent: agent, ResumeSessionID: resumeSessionID, WorkingDirectory: agent.WorkingDirectory,
	})
	if err != nil {
		return "", fmt.Errorf("handoff sub-query: %w", err)
	}
	var sb strings.Builder
	sawTerminal := false
	for msg := range stream {
		if msg.Type == runtime.MessageAssistant {
			sb.WriteString(msg.Text)
		}
		if msg.IsTerminal() {
			sawTerminal = true
		}
	}
	if !sawTerminal {
		return "", errors.New("handoff sub-query: stream closed without a result message")
	}
	if sb.Len() == 0 {
		return "", errors.New("handoff sub-query: empty summary")
	}
	return sb.String(), nil
}

// fireSessionStart fires on_session_start and returns any shell-hook
// stdout collected, to be prepended to the prompt of the next
// continuation.
func (e *Executor) fireSessionStart(ctx context.Context, agent fleetconfig.Agent, jobCtx workspace.JobContext, setup workspace.SetupResult, sessionID string, handoffs int, prompt string) string {
	info := hooks.SessionInfo{
		SessionID: sessionID, AgentName: agent.Name, JobID: jobCtx.JobID,
		WorkingDirectory: setup.WorkingDirectory, BranchName: setup.BranchName,
		IsContinuation: handoffs > 0, HandoffCount: handoffs,
	}
	payload := hooks.SessionStartPayload{Event: string(fleetconfig.HookSessionStart), Session: info, Prompt: prompt}
	outcomes := e.hookPipe.Fire(ctx, fleetconfig.HookSessionStart, agent.Hooks.Slot(fleetconfig.HookSessionStart), payload)

	var prepend strings.Builder
	for _, o := range outcomes {
		if o.Success && o.Output != "" {
			prepend.WriteString(o.Output)
			prepend.WriteString("\n")
		}
	}
	return prepend.String()
}

func handoffPrompt() string {
	return "Your context window is nearly full. Summarize everything needed to " +
		"resume this work in a fresh session: what you were asked to do, what " +
		"you've done so far, what remains, and any decisions or file paths the " +
		"next session must know. Be concise but complete."
}

func continuationPrompt(handoffDoc, originalPrompt string) string {
	if handoffDoc == "" {
		return originalPrompt
	}
	return "You are continuing a prior session that ran out of context. Here is " +
		"the handoff summary from before:\n\n" + handoffDoc +
		"\n\nOriginal task:\n" + originalPrompt
}

func projectMessage(msg runtime.Message) api.OutputEntry {
	entry := api.OutputEntry{Timestamp: msg.Timestamp, SessionID: msg.SessionID, Subtype: msg.Subtype}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	switch msg.Type {
	case runtime.MessageSystem:
		entry.Type = api.OutputSystem
		entry.Content = msg.Status
		if msg.Compact != nil {
			entry.Data = map[string]interface{}{"pre_tokens": msg.Compact.PreTokens}
		}
	case runtime.MessageAssistant:
		entry.Type = api.OutputAssistant
		entry.Content = msg.Text
		if msg.Usage != nil {
			entry.Data = map[string]interface{}{"input_tokens": msg.Usage.InputTokens, "output_tokens": msg.Usage.OutputTokens}
		}
	case runtime.MessageToolUse:
		entry.Type = api.OutputToolUse
		entry.Content = msg.ToolName
		if msg.ToolInput != nil {
			entry.Data = msg.ToolInput
		}
	case runtime.MessageToolResult:
		entry.Type = api.OutputToolResult
		entry.Content = msg.ToolOutput
	case runtime.MessageResult:
		entry.Type = api.OutputResult
		if msg.Success {
			entry.Content = "success"
		} else {
			entry.Content = msg.Error
		}
		if msg.ModelUsage != nil {
			entry.Data = map[string]interface{}{"model_name": msg.ModelUsage.ModelName, "context_window": msg.ModelUsage.ContextWindow}
		}
	}
	return entry
}

// classify maps the loop's terminal state to a job status, summary, and
// error message per the failure taxonomy: workspace-setup-failed and
// runtime-stream-failed are handled by their callers before the loop
// starts; this covers cancelled, timed_out, max-handoffs-exceeded, and
// the ordinary completed/failed split on the runtime's own result.
func classify(loopErr error, lastResult *runtime.Message, handoffs, maxHandoffs int) (status api.JobStatus, summary, errMsg string) {
	switch {
	case errors.Is(loopErr, context.Canceled):
		return api.JobCancelled, "", "cancelled"
	case errors.Is(loopErr, context.DeadlineExceeded):
		return api.JobTimedOut, "", "timed_out"
	case loopErr != nil:
		return api.JobFailed, "", "runtime_stream_failed: " + loopErr.Error()
	case lastResult == nil:
		if handoffs >= maxHandoffs {
			return api.JobFailed, "", "max_handoffs_exceeded"
		}
		return api.JobFailed, "", "runtime_stream_failed: stream closed without a result message"
	case lastResult.Success:
		return api.JobCompleted, lastResult.Text, ""
	default:
		return api.JobFailed, "", lastResult.Error
	}
}

type finishOpt func(*finishState)

type finishState struct {
	tokens  *api.TokenStats
	summary *string
}

func withTokens(input, output int) finishOpt {
	return func(s *finishState) {
		s.tokens = &api.TokenStats{CumulativeInput: input, LastOutput: output}
	}
}

func withSummary(summary string) finishOpt {
	return func(s *finishState) { s.summary = &summary }
}

// finish persists the job's terminal status, the session record (for
// persistent-mode agents), fires the completed/failed lifecycle hooks,
// and returns the TriggerResult. skipSession is set for failures that
// happened before a runtime was ever reached.
func (e *Executor) finish(
	ctx context.Context, log *logger.Logger, jobID string, agent fleetconfig.Agent, setup workspace.SetupResult,
	start time.Time,
	status api.JobStatus, errMsg string, handoffs int, rtCtx session.RuntimeContext, sessionID string, skipSession bool,
	opts ...finishOpt,
) (api.TriggerResult, error) {
	st := &finishState{}
	for _, o := range opts {
		o(st)
	}

	now := time.Now().UTC()
	fields := jobstore.StatusFields{SessionID: &sessionID, FinishedAt: &now}
	if st.tokens != nil {
		tokens := *st.tokens
		tokens.HandoffCount = handoffs
		fields.Tokens = &tokens
	}
	if st.summary != nil {
		fields.Summary = st.summary
	}
	if errMsg != "" {
		fields.Error = &errMsg
	}
	if err := e.jobs.UpdateStatus(jobID, status, fields); err != nil {
		log.Warn("update job status failed", zap.Error(err))
	}

	if !skipSession && agent.SessionMode == fleetconfig.SessionPersistent {
		jobCount := 1
		if rec, _ := e.sessions.Get(agent.Name); rec != nil {
			jobCount = rec.JobCount + 1
		}
		rec := session.Record{
			SessionID: sessionID, AgentName: agent.Name, CreatedAt: now, LastUsedAt: now,
			JobCount: jobCount, WorkingDirectory: setup.WorkingDirectory, RuntimeContext: rtCtx,
		}
		if err := e.sessions.Put(agent.Name, rec); err != nil {
			log.Warn("persist session record failed", zap.Error(err))
		}
	}

	lifecycleEvent := fleetconfig.HookCompleted
	switch status {
	case api.JobFailed:
		lifecycleEvent = fleetconfig.HookFailed
	case api.JobTimedOut:
		lifecycleEvent = fleetconfig.HookTimeout
	case api.JobCancelled:
		lifecycleEvent = fleetconfig.HookCancelled
	}
	summary := ""
	if st.summary != nil {
		summary = *st.summary
	}
	payload := hooks.LifecyclePayload{
		Event:   string(lifecycleEvent),
		Session: hooks.SessionInfo{SessionID: sessionID, AgentName: agent.Name, JobID: jobID, WorkingDirectory: setup.WorkingDirectory, HandoffCount: handoffs},
		Summary: summary,
		Error:   errMsg,
	}
	e.hookPipe.Fire(ctx, lifecycleEvent, agent.Hooks.Slot(lifecycleEvent), payload)

	return api.TriggerResult{
		Success:         status == api.JobCompleted,
		JobID:           jobID,
		SessionID:       sessionID,
		Summary:         summary,
		Error:           errMsg,
		DurationSeconds: time.Since(start).Seconds(),
	}, nil
}
