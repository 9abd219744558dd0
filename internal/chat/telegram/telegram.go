// Package telegram implements the shared Chat Manager connector shape
// (§4.9): one bot identity for the whole workspace, routing inbound
// messages to many agents via a channel_to_agent map. Unmapped channels
// are ignored.
package telegram

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/chat"
	"github.com/ikido/fleetctl/internal/common/logger"
)

// Handler receives every inbound message that isn't a recognised command
// and whose channel resolves to a configured agent.
type Handler func(ctx context.Context, evt chat.ChatMessageEvent)

// EventSink receives typed lifecycle/observability events.
type EventSink func(evt chat.Event)

// Config configures the shared connector.
type Config struct {
	Token          string
	ChannelToAgent map[string]string // chat id (as string) -> agent name
}

// Connector is the single Telegram bot identity shared across agents.
type Connector struct {
	cfg Config

	bot   *telego.Bot
	state *chat.StateMachine
	cmds  *chat.CommandTable

	handler Handler
	sink    EventSink
	log     *logger.Logger

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New constructs a Connector. cmds may be nil to disable command handling.
func New(cfg Config, cmds *chat.CommandTable, handler Handler, sink EventSink, log *logger.Logger) (*Connector, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Connector{
		cfg:     cfg,
		bot:     bot,
		state:   chat.NewStateMachine(),
		cmds:    cmds,
		handler: handler,
		sink:    sink,
		log:     log.WithFields(zap.String("platform", "telegram")),
	}, nil
}

func (c *Connector) Name() string              { return "telegram" }
func (c *Connector) Platform() string           { return "telegram" }
func (c *Connector) State() chat.ConnectorState { return c.state.Current() }

// Start begins long polling for updates, retrying the initial handshake
// with backoff on transient failure (matches internal/chat/discord and
// internal/worksource.ClaimWithRetry's retry shape).
func (c *Connector) Start(ctx context.Context) error {
	c.state.Transition(chat.StateConnecting)

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	var updates <-chan telego.Update
	err := chat.ConnectWithRetry(ctx, 30*time.Second, func() error {
		u, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
			Timeout:        30,
			AllowedUpdates: []string{"message"},
		})
		if err != nil {
			return fmt.Errorf("start telegram long polling: %w", err)
		}
		updates = u
		return nil
	})
	if err != nil {
		cancel()
		c.state.Transition(chat.StateError)
		return err
	}

	c.state.Transition(chat.StateConnected)
	c.emit(chat.EventReady, "", nil)
	c.log.Info("telegram connector ready", zap.String("username", c.bot.Username()))

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the goroutine to exit.
func (c *Connector) Stop(ctx context.Context) error {
	c.state.Transition(chat.StateDisconnecting)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			c.log.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	c.state.Transition(chat.StateDisconnected)
	c.emit(chat.EventDisconnect, "", nil)
	return nil
}

// PostToChannel delivers a bare notification (chat_post hook).
func (c *Connector) PostToChannel(ctx context.Context, channel, message string) error {
	chatID, err := parseChatID(channel)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", channel, err)
	}
	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), message))
	return err
}

func (c *Connector) handleMessage(ctx context.Context, m *telego.Message) {
	channelID := fmt.Sprintf("%d", m.Chat.ID)
	agentName, ok := c.cfg.ChannelToAgent[channelID]
	if !ok {
		c.emit(chat.EventMessageIgnored, "unmapped_channel", map[string]any{"channel_id": channelID})
		return
	}

	metadata := chat.MessageMetadata{
		ChannelID:   channelID,
		MessageID:   fmt.Sprintf("%d", m.MessageID),
		TriggerKind: chat.TriggerMessage,
	}
	if m.From != nil {
		metadata.UserID = fmt.Sprintf("%d", m.From.ID)
	}

	reply := func(ctx context.Context, text string) error {
		_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(m.Chat.ID), text))
		return err
	}

	if c.cmds != nil {
		handled, err := c.cmds.Dispatch(ctx, m.Text, chat.CommandInvocation{Metadata: metadata, Reply: reply})
		if handled {
			if err != nil {
				c.log.Warn("command execution failed", zap.Error(err))
			}
			c.emit(chat.EventCommandExecuted, "", map[string]any{"channel_id": channelID})
			return
		}
	}

	if c.handler == nil {
		return
	}

	c.handler(ctx, chat.ChatMessageEvent{
		AgentName: agentName,
		Prompt:    m.Text,
		Metadata:  metadata,
		ConversationContext: chat.ConversationContext{
			Platform: "telegram",
			Key:      channelID,
		},
		Reply: reply,
		ReplyWithFile: func(ctx context.Context, file chat.FileRef) error {
			return c.sendFile(ctx, m.Chat.ID, file)
		},
		Indicator: func(ctx context.Context) func() {
			return c.startTyping(ctx, m.Chat.ID)
		},
	})
	c.emit(chat.EventMessage, "", map[string]any{"channel_id": channelID})
}

func (c *Connector) sendFile(ctx context.Context, chatID int64, file chat.FileRef) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open file for telegram upload: %w", err)
	}
	defer f.Close()
	doc := tu.Document(tu.ID(chatID), tu.File(f))
	_, err = c.bot.SendDocument(ctx, doc)
	return err
}

// startTyping sends a typing action every 4s (Telegram's own indicator
// lasts ~5s) until cancelled.
func (c *Connector) startTyping(ctx context.Context, chatID int64) func() {
	stop := make(chan struct{})
	go func() {
		send := func() { _ = c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)) }
		send()
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				send()
			}
		}
	}()
	return func() { close(stop) }
}

func (c *Connector) emit(evtType chat.EventType, reason string, data map[string]any) {
	if c.sink == nil {
		return
	}
	c.sink(chat.Event{
		Type:          evtType,
		ConnectorName: "telegram",
		Platform:      "telegram",
		Timestamp:     time.Now().UTC(),
		Reason:        reason,
		Data:          data,
	})
}

func parseChatID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}
