// Package chat defines the Chat Manager contract: the abstract shape every
// chat platform connector (Discord, Telegram, an issue-tracker webhook
// feed) is adapted to, so the fleet triggers agents the same way
// regardless of which platform a message arrived on.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoReplyChannel is returned by a connector's Reply/PostToChannel when
// it has no client capable of delivering to the originating channel (e.g.
// an issue-tracker connector configured without an IssueClient).
var ErrNoReplyChannel = errors.New("chat: no reply channel configured")

// TriggerKind distinguishes why a ChatMessageEvent is being raised.
type TriggerKind string

const (
	TriggerMessage TriggerKind = "message"
	TriggerMention TriggerKind = "mention"
	TriggerCommand TriggerKind = "command"
)

// MessageMetadata carries the platform-specific identifiers a hook payload
// or session-key lookup needs, normalised to a common shape.
type MessageMetadata struct {
	ChannelID    string
	MessageID    string
	UserID       string
	WasMentioned bool
	TriggerKind  TriggerKind
}

// ConversationContext identifies which conversation-key-store entry this
// message belongs to. Key is the channel id for thread-centric platforms
// and the issue id for issue-centric ones — never a thread timestamp, so
// reset/help semantics stay uniform across platforms.
type ConversationContext struct {
	Platform string
	Key      string
}

// FileRef points at a file on disk a connector should upload alongside or
// instead of a text reply.
type FileRef struct {
	Path     string
	Filename string
}

// ChatMessageEvent is what a connector hands to the Fleet Manager for
// every inbound message that should trigger (or continue) an agent run.
type ChatMessageEvent struct {
	AgentName           string
	Prompt              string
	Metadata            MessageMetadata
	ConversationContext ConversationContext

	// Reply posts text back to the originating channel/thread.
	Reply func(ctx context.Context, text string) error
	// ReplyWithFile uploads a file, used by the dynamic tool server's
	// send_file tool.
	ReplyWithFile func(ctx context.Context, file FileRef) error
	// Indicator starts a typing/progress indicator and returns a function
	// that cancels it. May be nil if the platform has no such concept.
	Indicator func(ctx context.Context) (cancel func())
}

// ConnectorState is a connector's place in its lifecycle state machine:
// disconnected -> connecting -> connected -> disconnecting -> disconnected,
// with an error state reachable from connecting or connected that always
// settles back to disconnected.
type ConnectorState string

const (
	StateDisconnected  ConnectorState = "disconnected"
	StateConnecting    ConnectorState = "connecting"
	StateConnected     ConnectorState = "connected"
	StateDisconnecting ConnectorState = "disconnecting"
	StateError         ConnectorState = "error"
)

// EventType discriminates a typed Chat Manager event.
type EventType string

const (
	EventReady            EventType = "ready"
	EventDisconnect       EventType = "disconnect"
	EventError            EventType = "error"
	EventMessage          EventType = "message"
	EventMessageIgnored   EventType = "message_ignored"
	EventCommandExecuted  EventType = "command_executed"
	EventSessionLifecycle EventType = "session_lifecycle"
)

// SessionLifecycleKind is the Data field value accompanying an
// EventSessionLifecycle event.
type SessionLifecycleKind string

const (
	SessionCreated SessionLifecycleKind = "created"
	SessionResumed SessionLifecycleKind = "resumed"
	SessionExpired SessionLifecycleKind = "expired"
	SessionCleared SessionLifecycleKind = "cleared"
)

// Event is one typed occurrence a connector reports to the Manager for
// observability and for driving fleet-level events.
type Event struct {
	Type          EventType
	ConnectorName string
	Platform      string
	Timestamp     time.Time
	// Reason is set on EventMessageIgnored (e.g. "not_mentioned",
	// "self_authored", "policy_denied").
	Reason string
	Data   map[string]interface{}
}

// Connector is the narrow surface the Manager drives every platform
// adapter through. A connector owns its own gateway/polling loop and
// reports state transitions and typed events back through the handlers
// passed to New/Configure by its concrete constructor.
type Connector interface {
	Name() string
	Platform() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() ConnectorState
	// PostToChannel delivers a bare notification outside the normal
	// message/reply flow, used by chat_post hooks.
	PostToChannel(ctx context.Context, channel, message string) error
}

// StateMachine guards a connector's lifecycle transitions behind a mutex
// and rejects moves that skip a step, matching the Chat Manager's
// documented state diagram.
type StateMachine struct {
	mu    sync.Mutex
	state ConnectorState
}

// NewStateMachine starts in StateDisconnected.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateDisconnected}
}

func (m *StateMachine) Current() ConnectorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to next if the move is legal, returning false
// otherwise. error is always reachable from connecting or connected;
// connected reaches disconnected via disconnecting or error, connecting
// only via error.
func (m *StateMachine) Transition(next ConnectorState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !legalTransition(m.state, next) {
		return false
	}
	m.state = next
	return true
}

func legalTransition(from, to ConnectorState) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateError
	case StateConnected:
		return to == StateDisconnecting || to == StateError
	case StateDisconnecting:
		return to == StateDisconnected
	case StateError:
		return to == StateDisconnected
	default:
		return false
	}
}
