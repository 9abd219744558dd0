// Package discord implements the per-agent Chat Manager connector shape
// (§4.9): one Discord bot identity per agent, session conversation key is
// the channel id.
package discord

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/chat"
	"github.com/ikido/fleetctl/internal/common/logger"
)

// discordMessageLimit is Discord's hard per-message character cap,
// independent of the Streaming Responder's own chunk sizing.
const discordMessageLimit = 2000

// Handler receives every inbound message that isn't a recognised command.
type Handler func(ctx context.Context, evt chat.ChatMessageEvent)

// EventSink receives typed lifecycle/observability events.
type EventSink func(evt chat.Event)

// Connector is a single agent's Discord bot identity.
type Connector struct {
	agentName      string
	token          string
	requireMention bool

	session *discordgo.Session
	state   *chat.StateMachine
	cmds    *chat.CommandTable
	handler Handler
	sink    EventSink
	log     *logger.Logger

	botUserID string
}

// Config configures one agent's Discord connector.
type Config struct {
	AgentName      string
	Token          string
	RequireMention bool // default true; only respond when @mentioned outside DMs
}

// New constructs a Connector. cmds may be nil to disable command handling.
func New(cfg Config, cmds *chat.CommandTable, handler Handler, sink EventSink, log *logger.Logger) *Connector {
	return &Connector{
		agentName:      cfg.AgentName,
		token:          cfg.Token,
		requireMention: cfg.RequireMention,
		state:          chat.NewStateMachine(),
		cmds:           cmds,
		handler:        handler,
		sink:           sink,
		log:            log.WithFields(zap.String("agent", cfg.AgentName), zap.String("platform", "discord")),
	}
}

func (c *Connector) Name() string              { return c.agentName }
func (c *Connector) Platform() string           { return "discord" }
func (c *Connector) State() chat.ConnectorState { return c.state.Current() }

// Start opens the Discord gateway connection, retrying the initial
// handshake with backoff (the gateway itself reconnects on its own after
// that; this only covers getting connected in the first place).
func (c *Connector) Start(ctx context.Context) error {
	c.state.Transition(chat.StateConnecting)

	var session *discordgo.Session
	var botUserID string
	err := chat.ConnectWithRetry(ctx, 30*time.Second, func() error {
		s, err := discordgo.New("Bot " + c.token)
		if err != nil {
			return fmt.Errorf("create discord session: %w", err)
		}
		s.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
		s.AddHandler(c.handleMessage)

		if err := s.Open(); err != nil {
			return fmt.Errorf("open discord session: %w", err)
		}

		me, err := s.User("@me")
		if err != nil {
			_ = s.Close()
			return fmt.Errorf("fetch discord bot identity: %w", err)
		}
		session, botUserID = s, me.ID
		return nil
	})
	if err != nil {
		c.state.Transition(chat.StateError)
		return err
	}

	c.session = session
	c.botUserID = botUserID
	c.state.Transition(chat.StateConnected)
	c.emit(chat.EventReady, "", nil)
	c.log.Info("discord connector ready", zap.String("bot_user_id", botUserID))
	return nil
}

// Stop closes the gateway connection.
func (c *Connector) Stop(ctx context.Context) error {
	c.state.Transition(chat.StateDisconnecting)
	var err error
	if c.session != nil {
		err = c.session.Close()
	}
	c.state.Transition(chat.StateDisconnected)
	c.emit(chat.EventDisconnect, "", nil)
	return err
}

// PostToChannel delivers a bare notification (chat_post hook), bypassing
// the reply/placeholder flow used for message-triggered jobs.
func (c *Connector) PostToChannel(ctx context.Context, channel, message string) error {
	return c.sendChunked(channel, message)
}

func (c *Connector) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID {
		return
	}

	isDM := m.GuildID == ""
	wasMentioned := false
	for _, u := range m.Mentions {
		if u.ID == c.botUserID {
			wasMentioned = true
			break
		}
	}
	if !isDM && c.requireMention && !wasMentioned {
		c.emit(chat.EventMessageIgnored, "not_mentioned", map[string]any{"channel_id": m.ChannelID})
		return
	}

	ctx := context.Background()
	metadata := chat.MessageMetadata{
		ChannelID:    m.ChannelID,
		MessageID:    m.ID,
		UserID:       m.Author.ID,
		WasMentioned: wasMentioned,
		TriggerKind:  chat.TriggerMessage,
	}
	if wasMentioned {
		metadata.TriggerKind = chat.TriggerMention
	}

	reply := func(ctx context.Context, text string) error {
		return c.sendChunked(m.ChannelID, text)
	}

	if c.cmds != nil {
		handled, err := c.cmds.Dispatch(ctx, m.Content, chat.CommandInvocation{Metadata: metadata, Reply: reply})
		if handled {
			if err != nil {
				c.log.Warn("command execution failed", zap.Error(err))
			}
			c.emit(chat.EventCommandExecuted, "", map[string]any{"channel_id": m.ChannelID})
			return
		}
	}

	if c.handler == nil {
		return
	}

	c.handler(ctx, chat.ChatMessageEvent{
		AgentName: c.agentName,
		Prompt:    m.Content,
		Metadata:  metadata,
		ConversationContext: chat.ConversationContext{
			Platform: "discord",
			Key:      m.ChannelID,
		},
		Reply: reply,
		ReplyWithFile: func(ctx context.Context, file chat.FileRef) error {
			return c.sendFile(m.ChannelID, file)
		},
		Indicator: func(ctx context.Context) func() {
			return c.startTyping(m.ChannelID)
		},
	})
	c.emit(chat.EventMessage, "", map[string]any{"channel_id": m.ChannelID})
}

// startTyping sends one typing indicator and keeps it alive every 8s
// (Discord's own typing indicator expires after ~10s) until cancelled.
func (c *Connector) startTyping(channelID string) func() {
	stop := make(chan struct{})
	go func() {
		_ = c.session.ChannelTyping(channelID)
		ticker := time.NewTicker(8 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = c.session.ChannelTyping(channelID)
			}
		}
	}()
	return func() { close(stop) }
}

func (c *Connector) sendChunked(channelID, content string) error {
	for _, chunk := range splitForDiscord(content, discordMessageLimit) {
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// splitForDiscord breaks content into chunks no longer than limit,
// preferring to cut at the last newline past the chunk's midpoint so a
// split doesn't land mid-sentence when a newline is available nearby.
func splitForDiscord(content string, limit int) []string {
	var chunks []string
	for len(content) > 0 {
		if len(content) <= limit {
			chunks = append(chunks, content)
			break
		}
		cutAt := limit
		if idx := strings.LastIndexByte(content[:limit], '\n'); idx > limit/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, content[:cutAt])
		content = content[cutAt:]
	}
	return chunks
}

func (c *Connector) emit(evtType chat.EventType, reason string, data map[string]any) {
	if c.sink == nil {
		return
	}
	c.sink(chat.Event{
		Type:          evtType,
		ConnectorName: c.agentName,
		Platform:      "discord",
		Timestamp:     time.Now().UTC(),
		Reason:        reason,
		Data:          data,
	})
}

func (c *Connector) sendFile(channelID string, file chat.FileRef) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open file for discord upload: %w", err)
	}
	defer f.Close()
	_, err = c.session.ChannelFileSend(channelID, file.Filename, f)
	return err
}
