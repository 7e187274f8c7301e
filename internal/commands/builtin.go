package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"scriptwatch/internal/digest"
	"scriptwatch/internal/notifier"
	"scriptwatch/internal/scheduler"
	"scriptwatch/internal/storage"
)

const defaultHistoryLimit = 10

// Services are the read-only views the built-in commands need.
type Services struct {
	Snapshot func() scheduler.Snapshot
	// Store is nil when run storage is disabled.
	Store storage.Store
	// Sent lists delivered notifications; used when Store is nil.
	Sent func() []notifier.HistoryItem
	// NextDigest returns the next digest time, zero if disabled.
	NextDigest func() time.Time
	Location   *time.Location
	Now        func() time.Time
}

// Builtin returns /status, /failing and /history.
func Builtin(s Services) []Command {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Location == nil {
		s.Location = time.Local
	}
	return []Command{
		{
			Name:        "status",
			Description: "sleeping and failing scripts",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				text := digest.Summary(s.Snapshot(), s.Now(), s.Location)
				if s.NextDigest != nil {
					if next := s.NextDigest(); !next.IsZero() {
						text += "\nnext digest: " + next.In(s.Location).Format("2006-01-02 15:04")
					}
				}
				return req.Reply(ctx, text)
			},
		},
		{
			Name:        "failing",
			Description: "scripts failing right now",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				failing := s.Snapshot().Failing
				if len(failing) == 0 {
					return req.Reply(ctx, "no failing scripts")
				}
				lines := make([]string, 0, len(failing))
				for _, id := range failing {
					lines = append(lines, string(id))
				}
				return req.Reply(ctx, fmt.Sprintf("failing (%d):\n%s", len(lines), strings.Join(lines, "\n")))
			},
		},
		{
			Name:        "history",
			Description: "recent runs: /history [n]",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				limit := defaultHistoryLimit
				if len(req.Args) > 0 {
					n, err := strconv.Atoi(req.Args[0])
					if err != nil || n <= 0 {
						return req.Reply(ctx, "usage: /history [n]")
					}
					limit = min(n, 50)
				}
				text, err := historyText(ctx, s, limit)
				if err != nil {
					return fmt.Errorf("read history: %w", err)
				}
				return req.Reply(ctx, text)
			},
		},
	}
}

func historyText(ctx context.Context, s Services, limit int) (string, error) {
	stamp := func(t time.Time) string { return t.In(s.Location).Format("01-02 15:04:05") }
	var b strings.Builder

	if s.Store != nil {
		recs, err := s.Store.RecentRuns(ctx, limit)
		if err != nil {
			return "", err
		}
		if len(recs) == 0 {
			return "no runs recorded yet", nil
		}
		fmt.Fprintf(&b, "last %d runs:", len(recs))
		for _, r := range recs {
			status := "ok"
			if !r.Success {
				status = "FAIL"
				if r.Kind != "" {
					status += " " + r.Kind
				}
			}
			mark := ""
			if r.Notified {
				mark = " *"
			}
			fmt.Fprintf(&b, "\n%s %s %s (%dms)%s", stamp(r.At), r.Script, status, r.DurationMS, mark)
		}
		return b.String(), nil
	}

	var sent []notifier.HistoryItem
	if s.Sent != nil {
		sent = s.Sent()
	}
	if len(sent) == 0 {
		return "no notifications sent yet", nil
	}
	if len(sent) > limit {
		sent = sent[len(sent)-limit:]
	}
	fmt.Fprintf(&b, "last %d notifications:", len(sent))
	for i := len(sent) - 1; i >= 0; i-- {
		text := sent[i].Text
		if r := []rune(text); len(r) > 80 {
			text = string(r[:77]) + "..."
		}
		fmt.Fprintf(&b, "\n%s %s", stamp(sent[i].At), strings.ReplaceAll(text, "\n", " "))
	}
	return b.String(), nil
}
