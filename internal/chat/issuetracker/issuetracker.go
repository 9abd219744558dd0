// Package issuetracker implements the issue-tracker Chat Manager variant
// (§4.9): a webhook-driven, comment-based connector that routes inbound
// issue events to agents by filter match rather than by channel identity.
// Unlike the gateway-polling discord/telegram connectors, this one has no
// connection of its own — its Start/Stop only drive the shared state
// machine, and HandleEvent is called directly by whatever HTTP handler
// decodes the provider's webhook payload into an IssueEvent.
package issuetracker

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/chat"
	"github.com/ikido/fleetctl/internal/common/logger"
)

// EventKind discriminates an inbound issue-tracker webhook delivery.
type EventKind string

const (
	EventIssueCreated  EventKind = "issue_created"
	EventCommentAdded  EventKind = "comment_added"
	EventIssueAssigned EventKind = "issue_assigned"
	EventStatusChanged EventKind = "status_changed"
)

// IssueEvent is the normalised shape a provider-specific webhook handler
// decodes its payload into before calling Connector.HandleEvent.
type IssueEvent struct {
	Kind       EventKind
	IssueID    string
	Title      string
	Body       string
	CommentID  string
	CreatorID  string
	AssigneeID string
	Team       string
	State      string
	Labels     []string
	Project    string
	// ReassignedTo is the configured agent name an issue_assigned event
	// moves the issue to, when that differs from whichever agent (if any)
	// was already handling it. A non-empty value defeats self-created
	// suppression even when CreatorID is the connector's own identity.
	ReassignedTo string
}

// AgentRoute is one agent's filter-based claim on inbound issue events. A
// route matches an event when every filter field it sets matches; empty
// fields don't constrain the match. Routes are evaluated in configuration
// order and the first match wins, except that any route with
// RequireExplicitAssignment set is only eligible via an exact Assignee
// match, and all such routes are tried before any filter-only route.
type AgentRoute struct {
	AgentName                 string
	Assignee                  string
	Team                      string
	AllowedStates             []string
	ExcludeLabels             []string
	Label                     string
	Project                   string
	RequireExplicitAssignment bool
}

// IssueClient is the narrow capability this connector needs from a
// concrete issue-tracker SDK: posting a comment back to an issue. A real
// binding (Jira, Linear, GitHub Issues) adapts its own client to this
// shape; a nil client disables Reply/PostToChannel with an error rather
// than panicking.
type IssueClient interface {
	PostComment(ctx context.Context, issueID, text string) error
}

// Handler receives every inbound issue event that routed to an agent.
type Handler func(ctx context.Context, evt chat.ChatMessageEvent)

// EventSink receives typed lifecycle/observability events.
type EventSink func(evt chat.Event)

// Config configures the connector.
type Config struct {
	// APIUserID is the connector's own identity on the tracker, used for
	// self-created issue suppression.
	APIUserID string
	Routes    []AgentRoute
}

// Connector routes issue-tracker webhook deliveries to agents.
type Connector struct {
	apiUserID string
	routes    []AgentRoute

	client  IssueClient
	state   *chat.StateMachine
	cmds    *chat.CommandTable
	handler Handler
	sink    EventSink
	log     *logger.Logger
}

// New constructs a Connector. cmds may be nil to disable comment commands.
func New(cfg Config, client IssueClient, cmds *chat.CommandTable, handler Handler, sink EventSink, log *logger.Logger) *Connector {
	return &Connector{
		apiUserID: cfg.APIUserID,
		routes:    cfg.Routes,
		client:    client,
		state:     chat.NewStateMachine(),
		cmds:      cmds,
		handler:   handler,
		sink:      sink,
		log:       log.WithFields(zap.String("platform", "issuetracker")),
	}
}

func (c *Connector) Name() string              { return "issuetracker" }
func (c *Connector) Platform() string           { return "issuetracker" }
func (c *Connector) State() chat.ConnectorState { return c.state.Current() }

// Start has no gateway to open; it exists so this connector satisfies
// chat.Connector and participates in the fleet's uniform lifecycle and
// state machine alongside the polling connectors.
func (c *Connector) Start(_ context.Context) error {
	c.state.Transition(chat.StateConnecting)
	c.state.Transition(chat.StateConnected)
	c.emit(chat.EventReady, "", nil)
	return nil
}

func (c *Connector) Stop(_ context.Context) error {
	c.state.Transition(chat.StateDisconnecting)
	c.state.Transition(chat.StateDisconnected)
	c.emit(chat.EventDisconnect, "", nil)
	return nil
}

// PostToChannel delivers a bare notification (chat_post hook); channel is
// the issue id.
func (c *Connector) PostToChannel(ctx context.Context, channel, message string) error {
	if c.client == nil {
		return chat.ErrNoReplyChannel
	}
	return c.client.PostComment(ctx, channel, message)
}

// HandleEvent is the entry point a webhook handler calls once it has
// decoded a provider payload into evt. It applies self-created
// suppression, routes the event to an agent by filter match, and raises
// the matched agent's ChatMessageEvent.
func (c *Connector) HandleEvent(ctx context.Context, evt IssueEvent) {
	if c.apiUserID != "" && evt.CreatorID == c.apiUserID && evt.ReassignedTo == "" {
		c.emit(chat.EventMessageIgnored, "self_authored", map[string]any{"issue_id": evt.IssueID})
		return
	}

	reply := func(ctx context.Context, text string) error {
		if c.client == nil {
			return chat.ErrNoReplyChannel
		}
		return c.client.PostComment(ctx, evt.IssueID, text)
	}

	if evt.Kind == EventCommentAdded && c.cmds != nil {
		metadata := chat.MessageMetadata{ChannelID: evt.IssueID, MessageID: evt.CommentID, UserID: evt.CreatorID, TriggerKind: chat.TriggerCommand}
		handled, err := c.cmds.Dispatch(ctx, evt.Body, chat.CommandInvocation{Metadata: metadata, Reply: reply})
		if handled {
			if err != nil {
				c.log.Warn("command execution failed", zap.Error(err))
			}
			c.emit(chat.EventCommandExecuted, "", map[string]any{"issue_id": evt.IssueID})
			return
		}
	}

	agentName, ok := c.routeAgent(evt)
	if !ok {
		c.emit(chat.EventMessageIgnored, "no_matching_route", map[string]any{"issue_id": evt.IssueID})
		return
	}

	if c.handler == nil {
		return
	}
	c.handler(ctx, chat.ChatMessageEvent{
		AgentName: agentName,
		Prompt:    promptFor(evt),
		Metadata: chat.MessageMetadata{
			ChannelID:   evt.IssueID,
			MessageID:   evt.CommentID,
			UserID:      evt.CreatorID,
			TriggerKind: chat.TriggerMessage,
		},
		ConversationContext: chat.ConversationContext{Platform: "issuetracker", Key: evt.IssueID},
		Reply:               reply,
	})
	c.emit(chat.EventMessage, "", map[string]any{"issue_id": evt.IssueID})
}

// routeAgent implements the filter-routing rule (§4.9): routes requiring
// explicit assignment are tried first and only match on an exact assignee
// id, so a broad team/label route never pre-empts a deliberate assignment;
// first match in configuration order wins thereafter.
func (c *Connector) routeAgent(evt IssueEvent) (string, bool) {
	for _, r := range c.routes {
		if !r.RequireExplicitAssignment {
			continue
		}
		if r.Assignee != "" && r.Assignee == evt.AssigneeID {
			return r.AgentName, true
		}
	}
	for _, r := range c.routes {
		if r.RequireExplicitAssignment {
			continue
		}
		if matchesRoute(r, evt) {
			return r.AgentName, true
		}
	}
	return "", false
}

func matchesRoute(r AgentRoute, evt IssueEvent) bool {
	if r.Assignee != "" && r.Assignee != evt.AssigneeID {
		return false
	}
	if r.Team != "" && r.Team != evt.Team {
		return false
	}
	if r.Label != "" && !containsString(evt.Labels, r.Label) {
		return false
	}
	if r.Project != "" && r.Project != evt.Project {
		return false
	}
	if len(r.AllowedStates) > 0 && !containsString(r.AllowedStates, evt.State) {
		return false
	}
	if anyLabelExcluded(evt.Labels, r.ExcludeLabels) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func anyLabelExcluded(labels, excluded []string) bool {
	for _, l := range labels {
		if containsString(excluded, l) {
			return true
		}
	}
	return false
}

func promptFor(evt IssueEvent) string {
	switch evt.Kind {
	case EventCommentAdded:
		return evt.Body
	case EventIssueCreated, EventIssueAssigned, EventStatusChanged:
		if evt.Body != "" {
			return evt.Title + "\n\n" + evt.Body
		}
		return evt.Title
	default:
		return strings.TrimSpace(evt.Title + "\n\n" + evt.Body)
	}
}

func (c *Connector) emit(evtType chat.EventType, reason string, data map[string]any) {
	if c.sink == nil {
		return
	}
	c.sink(chat.Event{
		Type:          evtType,
		ConnectorName: "issuetracker",
		Platform:      "issuetracker",
		Timestamp:     time.Now().UTC(),
		Reason:        reason,
		Data:          data,
	})
}

var _ chat.Connector = (*Connector)(nil)
