package fleet

import (
	"context"

	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/events"
	"github.com/ikido/fleetctl/internal/events/bus"
	"github.com/ikido/fleetctl/pkg/api"
)

// publishJobEvent publishes the typed job.completed/job.failed event for
// one Execute call's outcome under the agent's subject (§4.13). A publish
// failure only gets logged — it never affects the job's own result.
func (m *Manager) publishJobEvent(agentName string, result api.TriggerResult, err error) {
	if m.eventBus == nil {
		return
	}
	eventType := api.EventJobCompleted
	data := map[string]interface{}{
		"job_id":           result.JobID,
		"session_id":       result.SessionID,
		"duration_seconds": result.DurationSeconds,
	}
	if err != nil || !result.Success {
		eventType = api.EventJobFailed
		errMsg := result.Error
		if err != nil && errMsg == "" {
			errMsg = err.Error()
		}
		data["error"] = errMsg
	}

	evt := bus.NewAgentEvent(eventType, "fleet-manager", agentName, data)
	subject := events.JobSubject(agentName, eventType)
	if perr := m.eventBus.Publish(context.Background(), subject, evt); perr != nil {
		m.log.Warn("publish job event failed", zap.String("subject", subject), zap.Error(perr))
	}
}

// publishChatEvent publishes a chat.message.handled/chat.message.error
// event, mirroring a connector's own typed chat.Event into the fleet-wide
// bus namespace so an external observer doesn't need a separate
// subscription per platform.
func (m *Manager) publishChatEvent(agentName string, evtType string, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	evt := bus.NewAgentEvent(evtType, "fleet-manager", agentName, data)
	subject := events.JobSubject(agentName, evtType)
	if err := m.eventBus.Publish(context.Background(), subject, evt); err != nil {
		m.log.Warn("publish chat event failed", zap.String("subject", subject), zap.Error(err))
	}
}
