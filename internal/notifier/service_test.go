package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptwatch/internal/eventbus"
	kit "scriptwatch/internal/transport"
	logx "scriptwatch/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	targets  []kit.ChatTarget
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return kit.MessageRef{}, errors.New("boom")
	}
	f.sent = append(f.sent, text)
	f.targets = append(f.targets, to)
	return kit.MessageRef{Chat: to, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		Target:        kit.ChatTarget{ChatID: 42, ThreadID: 7},
	}
}

func stopped(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestNotifyDeliversInOrder(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(testConfig(), ad, logx.Nop(), nil)
	s.Start(context.Background())

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, s.Notify(context.Background(), m))
	}
	stopped(t, s)

	assert.Equal(t, []string{"a", "b", "c"}, ad.Sent())
	for _, to := range ad.targets {
		assert.Equal(t, kit.ChatTarget{ChatID: 42, ThreadID: 7}, to)
	}
	hist := s.Snapshot()
	require.Len(t, hist, 3)
	assert.Equal(t, "c", hist[2].Text)
	assert.Equal(t, 1, hist[2].Attempts)
}

func TestNotifyDropsEmptyText(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(testConfig(), ad, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.Notify(context.Background(), ""))
	require.NoError(t, s.Notify(context.Background(), "  \n"))
	stopped(t, s)

	assert.Empty(t, ad.Sent())
	assert.Zero(t, ad.calls)
}

func TestNotifyRetriesFailedSends(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failures: 2}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), ad, logx.Nop(), bus)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), "flaky"))
	stopped(t, s)

	assert.Equal(t, []string{"flaky"}, ad.Sent())
	assert.Equal(t, 3, ad.calls)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeNotifierSent, ev.Type)
		data, ok := ev.Data.(NotificationEvent)
		require.True(t, ok)
		assert.Equal(t, 3, data.Attempts)
		assert.Equal(t, len("flaky"), data.Size)
		assert.GreaterOrEqual(t, data.Latency, time.Duration(0))
	default:
		t.Fatal("expected a notifier.sent event")
	}
}

func TestNotifyGivesUpAfterRetryMax(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failures: 10}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), ad, logx.Nop(), bus)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), "lost"))
	stopped(t, s)

	assert.Empty(t, ad.Sent())
	assert.Equal(t, 3, ad.calls)
	ev := <-events
	assert.Equal(t, eventbus.TypeNotifierFailed, ev.Type)
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), &fakeAdapter{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Notify(context.Background(), "x"), ErrStopped)

	s.Start(context.Background())
	stopped(t, s)
	assert.ErrorIs(t, s.Notify(context.Background(), "x"), ErrStopped)
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.QueueSize = 1
	s := New(cfg, &fakeAdapter{}, logx.Nop(), nil)

	// Accept without workers so the queue cannot drain.
	s.mu.Lock()
	s.queue = make(chan message, 1)
	s.open = true
	s.mu.Unlock()

	require.NoError(t, s.Notify(context.Background(), "first"))
	assert.ErrorIs(t, s.Notify(context.Background(), "second"), ErrQueueFull)
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	first := retryDelay(cfg, 1)
	assert.GreaterOrEqual(t, first, 70*time.Millisecond)
	assert.LessOrEqual(t, first, 130*time.Millisecond)
}

func TestHistoryKeepsNewest(t *testing.T) {
	t.Parallel()
	h := history{max: 2}
	for _, txt := range []string{"a", "b", "c"} {
		h.add(HistoryItem{Text: txt})
	}
	got := h.list()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Text)
	assert.Equal(t, "c", got[1].Text)
}

func TestRestartAfterStop(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(testConfig(), ad, logx.Nop(), nil)
	s.Start(context.Background())
	stopped(t, s)

	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), "again"))
	stopped(t, s)
	assert.Equal(t, []string{"again"}, ad.Sent())
}
