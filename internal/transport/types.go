// Package transport holds chat-platform neutral types shared by the adapter,
// the command router and the log sink.
package transport

import "context"

// ChatKind mirrors the chat types the bot distinguishes.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
)

type Update struct {
	Message *Message
}

type Message struct {
	ID        int
	ChatID    int64
	ChatKind  ChatKind
	ChatTitle string
	ThreadID  int // forum topic thread id (0 if none)

	FromID        int64
	FromUsername  string
	FromFirstName string
	FromLastName  string
	FromIsBot     bool

	Text string
}

func (m *Message) IsGroup() bool { return m != nil && m.ChatKind == ChatGroup }

func (m *Message) IsPrivate() bool { return m != nil && m.ChatKind == ChatPrivate }

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender sends a plain text message outside the drip pipeline (command
// replies, log lines, reports).
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish the command
// menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
