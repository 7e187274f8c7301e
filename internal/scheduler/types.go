package scheduler

import (
	"context"
	"time"

	"scriptwatch/internal/check"
	"scriptwatch/internal/runner"
	"scriptwatch/internal/storage"
)

// Config controls pacing and per-pass concurrency.
type Config struct {
	// MinPassGap is the wait before every pass.
	MinPassGap time.Duration
	// MaxSleep caps a single idle sleep so the loop stays responsive.
	MaxSleep time.Duration
	// Workers bounds concurrent script executions within one pass.
	Workers int
}

// Defaults.
const (
	DefaultMinPassGap = 10 * time.Second
	DefaultMaxSleep   = 60 * time.Second
)

// Runner lists and executes scripts. *runner.Exec implements it.
type Runner interface {
	List(ctx context.Context) ([]check.ScriptID, error)
	Run(ctx context.Context, id check.ScriptID) runner.Result
}

// Notifier delivers notification text. It must not block on the network.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Recorder receives one record per executed script. storage.Store implements it.
type Recorder interface {
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

// ReasonEmptyText marks a notification the tracker allowed but that had no
// text to send.
const ReasonEmptyText = "empty"

// ScriptReport is the result of one script within a pass.
type ScriptReport struct {
	ID       check.ScriptID    `json:"id"`
	Success  bool              `json:"success"`
	Kind     check.FailureKind `json:"kind,omitempty"`
	ExitCode int               `json:"exit_code"`
	Duration time.Duration     `json:"duration_ns"`
	Notified bool              `json:"notified"`
	Reason   string            `json:"reason,omitempty"`
	Text     string            `json:"text,omitempty"`
}

// PassReport summarizes one pass.
type PassReport struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Skipped    int            `json:"skipped"`
	Scripts    []ScriptReport `json:"scripts"`
}

func (p PassReport) Counts() (ok, failed, notified int) {
	for _, s := range p.Scripts {
		if s.Success {
			ok++
		} else {
			failed++
		}
		if s.Notified {
			notified++
		}
	}
	return ok, failed, notified
}

// SleepingInfo describes a sleeping script.
type SleepingInfo struct {
	ID            check.ScriptID `json:"id"`
	LastRun       time.Time      `json:"last_run"`
	ReadyAt       time.Time      `json:"ready_at"`
	OnlyIfChanged bool           `json:"only_if_changed"`
}

// Snapshot is a read-only copy of the loop state for operators.
type Snapshot struct {
	Sleeping []SleepingInfo
	Failing  []check.ScriptID
	LastPass *PassReport
	Passes   uint64
}
