package fleet

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/ikido/fleetctl/internal/executor"
	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/pkg/api"
)

// schedulerTrigger is the scheduler.TriggerFunc closure: it runs the
// matched schedule's prompt through the executor, optionally resuming the
// agent's persistent session, and reports the outcome back over the event
// bus.
func (m *Manager) schedulerTrigger(ctx context.Context, agent fleetconfig.Agent, sched fleetconfig.Schedule, prompt string, item *api.WorkItem) (api.TriggerResult, error) {
	resumeSessionID := ""
	if sched.ResumeSession {
		if rec, err := m.sessions.Get(agent.Name); err == nil && rec != nil {
			resumeSessionID = rec.SessionID
		}
	}
	result, err := m.executor.Execute(ctx, executor.Options{
		Agent: agent, Prompt: prompt, ResumeSessionID: resumeSessionID,
		TriggerSource: api.TriggerScheduler, ScheduleName: sched.Name, WorkItem: item,
	})
	m.publishJobEvent(agent.Name, result, err)
	return result, err
}

// webhookTrigger is the webhook.TriggerFunc closure invoked once the
// ingestor has matched an inbound delivery to an agent and rendered its
// prompt template.
func (m *Manager) webhookTrigger(c *gin.Context, agentName, prompt, resumeSessionID string) (api.TriggerResult, error) {
	agent, ok := m.agents[agentName]
	if !ok {
		return api.TriggerResult{}, fmt.Errorf("fleet: webhook route targets unknown agent %q", agentName)
	}
	result, err := m.executor.Execute(c.Request.Context(), executor.Options{
		Agent: agent, Prompt: prompt, ResumeSessionID: resumeSessionID, TriggerSource: api.TriggerWebhook,
	})
	m.publishJobEvent(agentName, result, err)
	m.publishChatEvent(agentName, api.EventWebhookReceived, map[string]interface{}{"job_id": result.JobID})
	return result, err
}
