// Package transport defines the messaging surface shared by the Telegram
// and console backends: outbound text to a chat, inbound operator messages.
package transport

import (
	"context"
	"time"
)

// ChatTarget addresses a chat, optionally a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // 0 for the main thread
}

// Message is an inbound text message from an operator.
type Message struct {
	ID       int
	Chat     ChatTarget
	FromID   int64
	FromName string
	Text     string
}

// Update is one inbound event. Only text messages are delivered today.
type Update struct {
	Message  *Message
	Received time.Time
}

// MessageRef identifies a sent message. For split sends it is the first part.
type MessageRef struct {
	Chat      ChatTarget
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "" for plain text
	DisablePreview bool
}

// Adapter is a messaging backend: notifications go out through SendText,
// operator commands come in through the updates channel given to Start.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is one entry of the bot's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish the
// command menu to the chat client.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
