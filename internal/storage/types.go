package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Keep bounds how many run records are retained. 0 means default.
	Keep int
}

const defaultKeep = 5000

// RunRecord describes one script execution and what was done about it.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID         string    `json:"id"`
	PassID     string    `json:"pass_id"`
	Script     string    `json:"script"`
	At         time.Time `json:"at"`
	DurationMS int64     `json:"duration_ms"`
	ExitCode   int       `json:"exit_code"`
	Success    bool      `json:"success"`
	Kind       string    `json:"kind,omitempty"`
	Notified   bool      `json:"notified"`
	Reason     string    `json:"reason,omitempty"`
	Text       string    `json:"text,omitempty"`
}

// Store is the persistence API used by the scheduler and operator commands.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

const maxTextLen = 2000

func truncateText(s string) string {
	if len(s) <= maxTextLen {
		return s
	}
	return s[:maxTextLen-3] + "..."
}
