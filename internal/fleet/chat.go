package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/chat"
	"github.com/ikido/fleetctl/internal/chat/discord"
	"github.com/ikido/fleetctl/internal/chat/issuetracker"
	"github.com/ikido/fleetctl/internal/chat/telegram"
	"github.com/ikido/fleetctl/internal/executor"
	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/pkg/api"
)

// buildChatConnectors constructs every configured connector: one Discord
// bot per agent that opts in, one shared Telegram bot routed by channel,
// and one issue-tracker webhook connector, all driven through the same
// handleChatMessage entry point so the executor never has to know which
// platform a trigger came from.
func (m *Manager) buildChatConnectors() []chat.Connector {
	var connectors []chat.Connector

	if m.cfg.Chat.Discord.Enabled {
		for agentName, tokenEnv := range m.cfg.Chat.Discord.TokenEnvByAgent {
			agent, ok := m.agents[agentName]
			if !ok {
				m.log.Warn("discord connector configured for unknown agent", zap.String("agent", agentName))
				continue
			}
			token := os.Getenv(tokenEnv)
			if token == "" {
				m.log.Warn("discord token env not set, skipping connector", zap.String("agent", agentName), zap.String("env", tokenEnv))
				continue
			}
			requireMention := true
			for _, f := range agent.Chat {
				if f.Platform == "discord" {
					requireMention = f.RequireMention
				}
			}
			conn := discord.New(
				discord.Config{AgentName: agentName, Token: token, RequireMention: requireMention},
				chat.NewCommandTable("!", m.resetFunc("discord", agentName), m.statusFunc(agentName)),
				m.handleChatMessage,
				m.chatEventSink("discord"),
				m.log,
			)
			connectors = append(connectors, conn)
		}
	}

	if m.cfg.Chat.Telegram.Enabled {
		token := os.Getenv(m.cfg.Chat.Telegram.TokenEnv)
		if token == "" {
			m.log.Warn("telegram token env not set, telegram connector disabled", zap.String("env", m.cfg.Chat.Telegram.TokenEnv))
		} else {
			conn, err := telegram.New(
				telegram.Config{Token: token, ChannelToAgent: m.cfg.Chat.Telegram.ChannelToAgent},
				chat.NewCommandTable("!", m.resetFunc("telegram", ""), m.statusFunc("")),
				m.handleChatMessage,
				m.chatEventSink("telegram"),
				m.log,
			)
			if err != nil {
				m.log.Error("telegram connector construction failed", zap.Error(err))
			} else {
				connectors = append(connectors, conn)
			}
		}
	}

	if m.cfg.Chat.IssueTracker.Enabled {
		routes := make([]issuetracker.AgentRoute, 0, len(m.cfg.Chat.IssueTracker.Routes))
		for _, r := range m.cfg.Chat.IssueTracker.Routes {
			routes = append(routes, issuetracker.AgentRoute{
				AgentName:                 r.Agent,
				Assignee:                  r.Assignee,
				Team:                      r.Team,
				AllowedStates:             r.AllowedStates,
				ExcludeLabels:             r.ExcludeLabels,
				Label:                     r.Label,
				Project:                   r.Project,
				RequireExplicitAssignment: r.RequireExplicitAssignment,
			})
		}
		m.issueTracker = issuetracker.New(
			issuetracker.Config{APIUserID: m.cfg.Chat.IssueTracker.APIUserID, Routes: routes},
			nil, // no concrete issue-tracker HTTP client wired; see DESIGN.md
			chat.NewCommandTable("!", m.resetFunc("issuetracker", ""), m.statusFunc("")),
			m.handleChatMessage,
			m.chatEventSink("issuetracker"),
			m.log,
		)
		connectors = append(connectors, m.issueTracker)
	}

	return connectors
}

// resetFunc builds a chat ResetFunc bound to platform. Discord's
// per-agent connector passes its agentName; the shared Telegram and
// issuetracker connectors pass "", and their reset clears the key under
// every configured agent, since only the agent the conversation routed
// to holds an entry for it.
func (m *Manager) resetFunc(platform, agentName string) chat.ResetFunc {
	return func(ctx context.Context, conv chat.ConversationContext) error {
		if agentName != "" {
			_, err := m.keys.Clear(platform, agentName, conv.Key)
			return err
		}
		for name := range m.agents {
			if _, err := m.keys.Clear(platform, name, conv.Key); err != nil {
				return err
			}
		}
		return nil
	}
}

func (m *Manager) statusFunc(agentName string) chat.StatusFunc {
	return func(ctx context.Context) string {
		if agentName == "" {
			return fmt.Sprintf("fleet: %d agents configured", len(m.agents))
		}
		rec, err := m.sessions.Get(agentName)
		if err != nil || rec == nil {
			return fmt.Sprintf("agent %q: no active session", agentName)
		}
		return fmt.Sprintf("agent %q: session %s, %d jobs run", agentName, rec.SessionID, rec.JobCount)
	}
}

func (m *Manager) chatEventSink(platform string) func(evt chat.Event) {
	return func(evt chat.Event) {
		m.log.Debug("chat connector event",
			zap.String("platform", platform), zap.String("type", string(evt.Type)), zap.String("reason", evt.Reason))
	}
}

// handleChatMessage is the Handler every connector invokes for an inbound
// message that routed to an agent. It applies the agent's per-platform
// channel allowlist, resolves a resumable session from the conversation
// key store, runs the executor, and remembers the resulting session id
// for next time.
func (m *Manager) handleChatMessage(ctx context.Context, evt chat.ChatMessageEvent) {
	agent, ok := m.agents[evt.AgentName]
	if !ok {
		m.log.Warn("chat message routed to unknown agent", zap.String("agent", evt.AgentName))
		return
	}
	if !channelAllowed(agent, evt) {
		m.log.Debug("chat message dropped by channel allowlist",
			zap.String("agent", evt.AgentName), zap.String("channel", evt.Metadata.ChannelID))
		return
	}

	platform := evt.ConversationContext.Platform
	keyAdapter := &conversationKeyAdapter{keys: m.keys, platform: platform}
	resumeSessionID, _ := keyAdapter.Lookup(evt.AgentName, evt.ConversationContext.Key)

	resp := newResponderFor(evt.Reply)
	execCtx := withReplyFile(ctx, evt.ReplyWithFile)

	result, err := m.executor.Execute(execCtx, executor.Options{
		Agent: agent, Prompt: evt.Prompt, ResumeSessionID: resumeSessionID,
		TriggerSource: api.TriggerChat, Responder: resp,
	})
	m.publishJobEvent(evt.AgentName, result, err)

	if result.SessionID != "" {
		if rerr := keyAdapter.Remember(evt.AgentName, evt.ConversationContext.Key, result.SessionID); rerr != nil {
			m.log.Warn("failed to persist conversation key", zap.Error(rerr))
		}
	}

	eventType := api.EventChatMessageHandled
	if err != nil || !result.Success {
		eventType = api.EventChatMessageError
	}
	m.publishChatEvent(evt.AgentName, eventType, map[string]interface{}{
		"platform": platform, "job_id": result.JobID,
	})
}

// channelAllowed applies agent.Chat's per-platform AllowedChannels filter.
// An agent with no configured filter for the event's platform, or an
// empty AllowedChannels list, accepts every channel.
func channelAllowed(agent fleetconfig.Agent, evt chat.ChatMessageEvent) bool {
	for _, f := range agent.Chat {
		if f.Platform != evt.ConversationContext.Platform {
			continue
		}
		if len(f.AllowedChannels) == 0 {
			return true
		}
		for _, ch := range f.AllowedChannels {
			if ch == evt.Metadata.ChannelID {
				return true
			}
		}
		return false
	}
	return true
}

func (m *Manager) handleIssueTrackerWebhook(c *gin.Context) {
	if m.issueTracker == nil {
		c.Status(http.StatusNotFound)
		return
	}
	var evt issuetracker.IssueEvent
	if err := json.NewDecoder(c.Request.Body).Decode(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	m.issueTracker.HandleEvent(c.Request.Context(), evt)
	c.Status(http.StatusAccepted)
}
