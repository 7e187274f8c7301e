// Package console is the "test" notification backend: every message is
// written to a writer (stdout by default) instead of a chat.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	kit "scriptwatch/internal/transport"
)

type Adapter struct {
	mu  sync.Mutex
	w   io.Writer
	seq int
}

func New(w io.Writer) *Adapter {
	if w == nil {
		w = os.Stdout
	}
	return &Adapter{w: w}
}

// Start is a no-op: the console backend receives no commands.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }

func (a *Adapter) Stop(ctx context.Context) error { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	if _, err := fmt.Fprintln(a.w, "NOTIFY:", text); err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{Chat: to, MessageID: a.seq}, nil
}
