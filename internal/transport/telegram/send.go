package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	kit "scriptwatch/internal/transport"
	logx "scriptwatch/pkg/logx"
)

// maxMessageRunes stays under the Bot API limit of 4096.
const maxMessageRunes = 4000

// SendText sends text, split into several messages when it is too long. The
// returned ref points at the first part.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var so tele.SendOptions
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}
	so.ThreadID = to.ThreadID
	chat := &tele.Chat{ID: to.ChatID}

	ref := kit.MessageRef{Chat: to}
	for i, part := range chunkText(text, maxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		sent, err := a.bot.Send(chat, part, &so)
		if err != nil {
			return ref, fmt.Errorf("send part %d: %w", i+1, err)
		}
		if i == 0 {
			ref.MessageID = sent.ID
		}
	}
	return ref, nil
}

// chunkText cuts s into pieces of at most limit runes. A piece ends at the
// last newline in its final two thirds when there is one; newlines at the
// cut are dropped.
func chunkText(s string, limit int) []string {
	if limit <= 0 {
		limit = maxMessageRunes
	}
	rest := []rune(s)
	if len(rest) <= limit {
		return []string{s}
	}

	var parts []string
	for len(rest) > limit {
		cut := limit
		floor := limit / 3
		for i := limit - 1; i >= floor && i > 0; i-- {
			if rest[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(rest[:cut]), "\n"))
		rest = rest[cut:]
		for len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		parts = append(parts, strings.TrimRight(string(rest), "\n"))
	}
	return parts
}

// menuCache remembers the last published command menu.
type menuCache struct {
	mu  sync.Mutex
	key string
}

// UpdateMenuCommands publishes the bot command list (setMyCommands). It
// skips the call when the list is unchanged since the last success.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	list := make([]tele.Command, 0, len(cmds))
	var key strings.Builder
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		list = append(list, tele.Command{Text: c.Command, Description: desc})
		fmt.Fprintf(&key, "%s=%s;", c.Command, desc)
	}

	a.menu.mu.Lock()
	defer a.menu.mu.Unlock()
	if key.String() == a.menu.key {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menu.key = key.String()
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
