// Package transport defines the chat-platform boundary: inbound text updates
// and outbound plain-text sends.
package transport

import "context"

// Update is one inbound event. Only text messages and channel posts are
// delivered; everything else is dropped by the adapter.
type Update struct {
	Message *Message
}

type Message struct {
	ID     int
	ChatID int64
	// ThreadID is the forum topic, 0 outside forums.
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	IsChannel    bool
}

// ChatTarget addresses a chat, optionally a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	DisablePreview bool
	ReplyTo        int
}

// Adapter is a chat platform. Start must not block; updates are pushed to
// out until ctx ends or Stop is called.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater publishes the slash-command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// BotNamer reports the bot's own username so "/calendar@name" can be
// matched.
type BotNamer interface {
	Username() string
}
