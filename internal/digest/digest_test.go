package digest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptwatch/internal/check"
	"scriptwatch/internal/scheduler"
	logx "scriptwatch/pkg/logx"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() scheduler.Snapshot {
	return scheduler.Snapshot{
		Sleeping: []scheduler.SleepingInfo{
			{ID: "disk", LastRun: now.Add(-time.Minute), ReadyAt: now.Add(5 * time.Minute)},
		},
		Failing: []check.ScriptID{"backup"},
		LastPass: &scheduler.PassReport{
			FinishedAt: now.Add(-time.Minute),
			Skipped:    1,
			Scripts: []scheduler.ScriptReport{
				{ID: "backup", Notified: true},
				{ID: "disk", Success: true},
			},
		},
		Passes: 4,
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()
	got := Summary(sampleSnapshot(), now, time.UTC)
	assert.Contains(t, got, "scriptwatch status at 2024-05-01 12:00:00")
	assert.Contains(t, got, "passes: 4, last at 2024-05-01 11:59:00: 1 ok, 1 failed, 1 skipped, 1 notified")
	assert.Contains(t, got, "failing (1)\n  backup")
	assert.Contains(t, got, "disk until 2024-05-01 12:05:00 (in 5m0s)")
}

func TestSummaryEmpty(t *testing.T) {
	t.Parallel()
	got := Summary(scheduler.Snapshot{}, now, nil)
	assert.Contains(t, got, "no pass finished yet")
	assert.Contains(t, got, "failing (0)")
	assert.Contains(t, got, "sleeping (0)")
}

type chanNotifier chan string

func (c chanNotifier) Notify(_ context.Context, text string) error {
	select {
	case c <- text:
	default:
	}
	return nil
}

func TestServiceSendsOnSchedule(t *testing.T) {
	t.Parallel()
	out := make(chanNotifier, 4)
	svc := New(sampleSnapshot, out, logx.Nop())
	require.NoError(t, svc.Apply("every:1s", time.UTC))
	assert.True(t, svc.Next().IsZero(), "not started yet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	assert.False(t, svc.Next().IsZero())

	select {
	case text := <-out:
		assert.True(t, strings.HasPrefix(text, "scriptwatch status at"))
	case <-time.After(5 * time.Second):
		t.Fatal("digest was not sent")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	svc.Stop(stopCtx)
	assert.True(t, svc.Next().IsZero())
}

func TestServiceApplyRejectsBadSpec(t *testing.T) {
	t.Parallel()
	svc := New(sampleSnapshot, make(chanNotifier, 1), logx.Nop())
	assert.Error(t, svc.Apply("whenever", time.UTC))
	assert.NoError(t, svc.Apply("", nil))
}
