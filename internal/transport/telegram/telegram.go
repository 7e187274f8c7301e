// Package telegram is the Telegram Bot API backend built on telebot.
//
// Notifications are plain-text messages to one chat (optionally a forum
// thread). When polling is enabled, incoming text messages are forwarded as
// updates so operators can query the runner with bot commands.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "scriptwatch/internal/runtime/supervisor"
	kit "scriptwatch/internal/transport"
	logx "scriptwatch/pkg/logx"
)

const defaultPollTimeout = 10 * time.Second

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Poll enables receiving operator commands. Send-only otherwise.
	Poll bool
}

// ValidateToken checks the "<bot id>:<secret>" shape of a bot token.
func ValidateToken(token string) error {
	id, secret, ok := strings.Cut(strings.TrimSpace(token), ":")
	switch {
	case id == "" && !ok:
		return errors.New("telegram token is empty")
	case !ok || id == "" || secret == "" || strings.Contains(secret, ":"):
		return errors.New("telegram token must look like <id>:<secret>")
	}
	return nil
}

// Adapter implements transport.Adapter on top of a telebot long poller.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	mu      sync.Mutex
	out     chan<- kit.Update // nil while stopped
	poller  *rtsup.Supervisor
	dropped atomic.Uint64

	menu menuCache
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if err := ValidateToken(cfg.Token); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	a := &Adapter{cfg: cfg, log: log}
	bot, err := tele.NewBot(tele.Settings{
		Token:  strings.TrimSpace(cfg.Token),
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telegram update failed", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a.bot = bot
	bot.Handle(tele.OnText, a.handleText)
	return a, nil
}

func (a *Adapter) handleText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	a.forward(kit.Update{
		Received: time.Now(),
		Message: &kit.Message{
			ID:       m.ID,
			Chat:     kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID},
			FromID:   m.Sender.ID,
			FromName: m.Sender.Username,
			Text:     m.Text,
		},
	})
	return nil
}

// forward hands an update to the consumer without blocking the poller.
func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.log.Warn("operator message dropped; command queue full", logx.Int64("dropped_total", int64(n)))
		}
	}
}

// Start begins long polling when Poll is set. It returns immediately.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if !a.cfg.Poll {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.poller != nil {
		return nil
	}
	a.out = out
	sup := rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("sup", "poller"))),
		rtsup.WithCancelOnError(false),
	)
	a.poller = sup

	// bot.Start blocks until bot.Stop
	sup.Go0("telebot.stopper", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart("telebot.poll", func(context.Context) error {
		a.log.Info("polling started", logx.Duration("timeout", a.cfg.PollTimeout))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop ends polling. A pending getUpdates call is abandoned after 2s.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.poller
	a.poller, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("poller stopped with error", logx.Err(err))
	}
	return nil
}
