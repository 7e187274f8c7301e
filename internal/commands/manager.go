// Package commands answers operator bot commands (/status, /failing,
// /history) received through the messaging adapter.
package commands

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "scriptwatch/internal/runtime/supervisor"
	kit "scriptwatch/internal/transport"
	logx "scriptwatch/pkg/logx"
)

type Command struct {
	Name        string
	Description string
	// OwnerOnly restricts the command to configured owners.
	OwnerOnly bool
	Timeout   time.Duration
	Handle    HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Reply   func(ctx context.Context, text string) error
}

// Manager routes incoming messages to commands.
type Manager struct {
	mu       sync.RWMutex
	commands map[string]Command
	owners   []int64

	log     logx.Logger
	adapter kit.Adapter
	jobs    chan func()
	workers int
}

func NewManager(log logx.Logger, adapter kit.Adapter, owners []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		commands: map[string]Command{},
		owners:   append([]int64(nil), owners...),
		log:      log,
		adapter:  adapter,
		jobs:     make(chan func(), 32),
		workers:  2,
	}
}

// SetOwners updates the owner list. Safe to call during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

// Register replaces the command set and publishes the command menu when the
// adapter supports it. /help is always added.
func (m *Manager) Register(ctx context.Context, cmds ...Command) {
	reg := make(map[string]Command, len(cmds)+1)
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		reg[name] = c
	}
	reg["help"] = Command{
		Name:        "help",
		Description: "list commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText())
		},
	}

	m.mu.Lock()
	m.commands = reg
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := make([]kit.BotCommand, 0, len(reg))
		for _, c := range m.sorted() {
			menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(mctx, menu); err != nil {
			m.log.Warn("command menu update failed", logx.Err(err))
		}
	}
}

func (m *Manager) sorted() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.commands))
	for _, c := range m.commands {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) helpText() string {
	var b strings.Builder
	b.WriteString("commands:")
	for _, c := range m.sorted() {
		fmt.Fprintf(&b, "\n/%s - %s", c.Name, c.Description)
	}
	return b.String()
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a small worker pool so a slow reply never blocks polling.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("sup", "dispatch"))),
		rtsup.WithCancelOnError(false),
	)
	jobs := m.jobs
	for i := 0; i < m.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Manager) route(ctx context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	chat := msg.Chat
	reply := func(ctx context.Context, text string) error {
		_, err := m.adapter.SendText(ctx, chat, text, &kit.SendOptions{DisablePreview: true})
		return err
	}

	m.mu.RLock()
	cmd, ok := m.commands[word]
	owners := m.owners
	m.mu.RUnlock()
	if !ok {
		_ = reply(ctx, "unknown command, try /help")
		return
	}
	if cmd.OwnerOnly && !slices.Contains(owners, msg.FromID) {
		m.log.Debug("command denied", logx.String("cmd", word), logx.Int64("from_id", msg.FromID))
		_ = reply(ctx, "unauthorized")
		return
	}

	req := &Request{
		Chat:    chat,
		FromID:  msg.FromID,
		Command: word,
		Args:    parts[1:],
		Reply:   reply,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	final := Wrap(cmd.Handle,
		Logged(m.log),
		ReportErrors(),
		Recover(m.log),
		Deadline(timeout),
	)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_ = reply(ctx, "busy, try again")
	}
}
