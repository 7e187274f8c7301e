package commands

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptwatch/internal/check"
	"scriptwatch/internal/notifier"
	"scriptwatch/internal/scheduler"
	"scriptwatch/internal/storage"
	kit "scriptwatch/internal/transport"
	logx "scriptwatch/pkg/logx"
)

const owner int64 = 7

type reply struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	out  chan reply
	menu chan []kit.BotCommand
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{out: make(chan reply, 16), menu: make(chan []kit.BotCommand, 1)}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.out <- reply{to: to, text: text}
	return kit.MessageRef{Chat: to}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.menu <- cmds
	return nil
}

func (f *fakeAdapter) next(t *testing.T) reply {
	t.Helper()
	select {
	case r := <-f.out:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no reply")
		return reply{}
	}
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{
		Failing:  []check.ScriptID{"backup", "certs"},
		Sleeping: []scheduler.SleepingInfo{{ID: "disk", ReadyAt: now.Add(time.Minute)}},
		Passes:   2,
	}
}

func startManager(t *testing.T, svc Services) (*fakeAdapter, chan<- kit.Update) {
	t.Helper()
	ad := newFakeAdapter()
	m := NewManager(logx.Nop(), ad, []int64{owner})
	m.Register(context.Background(), Builtin(svc)...)

	menu := <-ad.menu
	names := make([]string, 0, len(menu))
	for _, c := range menu {
		names = append(names, c.Command)
	}
	require.Equal(t, []string{"failing", "help", "history", "status"}, names)

	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ad, updates
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Message: &kit.Message{Chat: kit.ChatTarget{ChatID: 100, ThreadID: 3}, FromID: from, Text: text}}
}

func baseServices() Services {
	return Services{
		Snapshot: snapshot,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}
}

func TestFailingCommand(t *testing.T) {
	t.Parallel()
	ad, updates := startManager(t, baseServices())

	updates <- msg(owner, "/failing@scriptwatch_bot")
	r := ad.next(t)
	assert.Equal(t, kit.ChatTarget{ChatID: 100, ThreadID: 3}, r.to)
	assert.Equal(t, "failing (2):\nbackup\ncerts", r.text)
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()
	svc := baseServices()
	svc.NextDigest = func() time.Time { return now.Add(time.Hour) }
	ad, updates := startManager(t, svc)

	updates <- msg(owner, "/status")
	r := ad.next(t)
	assert.Contains(t, r.text, "failing (2)")
	assert.Contains(t, r.text, "disk until")
	assert.Contains(t, r.text, "next digest: 2024-05-01 13:00")
}

func TestNonOwnerIsRejected(t *testing.T) {
	t.Parallel()
	ad, updates := startManager(t, baseServices())

	updates <- msg(99, "/status")
	assert.Equal(t, "unauthorized", ad.next(t).text)

	// help is public
	updates <- msg(99, "/help")
	assert.Contains(t, ad.next(t).text, "/history - recent runs")
}

func TestUnknownCommandAndPlainText(t *testing.T) {
	t.Parallel()
	ad, updates := startManager(t, baseServices())

	updates <- msg(owner, "hello there")
	updates <- msg(owner, "/reboot")
	assert.Equal(t, "unknown command, try /help", ad.next(t).text)
}

func TestHistoryFromStore(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.AppendRun(ctx, storage.RunRecord{ID: "1", Script: "disk", At: now, DurationMS: 12, Success: true}))
	require.NoError(t, st.AppendRun(ctx, storage.RunRecord{ID: "2", Script: "backup", At: now.Add(time.Second), Kind: string(check.KindTimeout), Notified: true}))

	svc := baseServices()
	svc.Store = st
	ad, updates := startManager(t, svc)

	updates <- msg(owner, "/history 5")
	text := ad.next(t).text
	assert.Contains(t, text, "last 2 runs:")
	assert.Contains(t, text, "05-01 12:00:01 backup FAIL timeout (0ms) *")
	assert.Contains(t, text, "05-01 12:00:00 disk ok (12ms)")

	updates <- msg(owner, "/history nope")
	assert.Equal(t, "usage: /history [n]", ad.next(t).text)
}

func TestHistoryFromNotifier(t *testing.T) {
	t.Parallel()
	svc := baseServices()
	svc.Sent = func() []notifier.HistoryItem {
		return []notifier.HistoryItem{{At: now, Text: "first"}, {At: now.Add(time.Second), Text: "second\nline"}}
	}
	ad, updates := startManager(t, svc)

	updates <- msg(owner, "/history")
	text := ad.next(t).text
	assert.Equal(t, "last 2 notifications:\n05-01 12:00:01 second line\n05-01 12:00:00 first", text)
}

func TestWrapOrderAndRecover(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Wrap(func(context.Context, *Request) error { panic("boom") },
		Recover(logx.Nop()), mw("a"), mw("b"))

	err := h(context.Background(), &Request{Command: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()
	h := Wrap(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, Deadline(10*time.Millisecond))
	err := h(context.Background(), &Request{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestReportErrorsReplies(t *testing.T) {
	t.Parallel()
	var got []string
	req := &Request{Command: "runs", Reply: func(_ context.Context, text string) error {
		got = append(got, text)
		return nil
	}}

	h := Wrap(func(context.Context, *Request) error { return errors.New("db locked") }, ReportErrors())
	require.Error(t, h(context.Background(), req))

	h = Wrap(func(context.Context, *Request) error { return context.DeadlineExceeded }, ReportErrors())
	require.Error(t, h(context.Background(), req))

	h = Wrap(func(context.Context, *Request) error { return nil }, ReportErrors())
	require.NoError(t, h(context.Background(), req))

	assert.Equal(t, []string{"/runs failed: db locked", "/runs timed out"}, got)
}
