package chat

import (
	"context"
	"fmt"
	"strings"
)

// CommandInvocation is a parsed `!`-prefixed command, stripped of its
// prefix and platform framing.
type CommandInvocation struct {
	Name     string
	Args     string
	Metadata MessageMetadata
	Reply    func(ctx context.Context, text string) error
}

// CommandFunc implements one command. An error is reported to the user
// via the invocation's Reply and does not bubble up to the connector.
type CommandFunc func(ctx context.Context, inv CommandInvocation) error

// CommandTable matches `!`-prefixed text against registered commands.
// Unmatched text is not a command — it falls through as an ordinary
// prompt.
type CommandTable struct {
	prefix   string
	commands map[string]CommandFunc
}

// NewCommandTable builds a table with the built-in help/reset/status
// commands registered. prefix defaults to "!".
func NewCommandTable(prefix string, reset ResetFunc, status StatusFunc) *CommandTable {
	if prefix == "" {
		prefix = "!"
	}
	t := &CommandTable{prefix: prefix, commands: make(map[string]CommandFunc)}
	t.Register("help", t.builtinHelp)
	if reset != nil {
		t.Register("reset", builtinReset(reset))
	}
	if status != nil {
		t.Register("status", builtinStatus(status))
	}
	return t
}

// Register adds or replaces the handler for name (without the prefix).
func (t *CommandTable) Register(name string, fn CommandFunc) {
	t.commands[strings.ToLower(name)] = fn
}

// Dispatch reports whether text is a recognised command and, if so, runs
// it. Text not starting with the configured prefix is never a command.
func (t *CommandTable) Dispatch(ctx context.Context, text string, inv CommandInvocation) (handled bool, err error) {
	if !strings.HasPrefix(text, t.prefix) {
		return false, nil
	}
	body := strings.TrimPrefix(text, t.prefix)
	name, args, _ := strings.Cut(body, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	fn, ok := t.commands[name]
	if !ok {
		return false, nil
	}
	inv.Name = name
	inv.Args = strings.TrimSpace(args)
	return true, fn(ctx, inv)
}

// ResetFunc clears the stored conversation key for the invocation's
// channel, used by the built-in "reset" command.
type ResetFunc func(ctx context.Context, conv ConversationContext) error

// StatusFunc reports a short human-readable status line for the built-in
// "status" command.
type StatusFunc func(ctx context.Context) string

func (t *CommandTable) builtinHelp(ctx context.Context, inv CommandInvocation) error {
	names := make([]string, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, t.prefix+name)
	}
	return inv.Reply(ctx, "Available commands: "+strings.Join(names, ", "))
}

func builtinReset(reset ResetFunc) CommandFunc {
	return func(ctx context.Context, inv CommandInvocation) error {
		conv := ConversationContext{Key: inv.Metadata.ChannelID}
		if err := reset(ctx, conv); err != nil {
			return inv.Reply(ctx, fmt.Sprintf("reset failed: %v", err))
		}
		return inv.Reply(ctx, "Conversation reset. The next message starts a fresh session.")
	}
}

func builtinStatus(status StatusFunc) CommandFunc {
	return func(ctx context.Context, inv CommandInvocation) error {
		return inv.Reply(ctx, status(ctx))
	}
}
