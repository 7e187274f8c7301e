package digest

import (
	"fmt"
	"strings"
	"time"

	"scriptwatch/internal/scheduler"
)

const maxListed = 20

// Summary renders a plain-text status report for operators.
func Summary(snap scheduler.Snapshot, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	stamp := func(t time.Time) string { return t.In(loc).Format("2006-01-02 15:04:05") }

	var b strings.Builder
	fmt.Fprintf(&b, "scriptwatch status at %s\n", stamp(now))

	if lp := snap.LastPass; lp != nil {
		ok, failed, notified := lp.Counts()
		fmt.Fprintf(&b, "passes: %d, last at %s: %d ok, %d failed, %d skipped, %d notified\n",
			snap.Passes, stamp(lp.FinishedAt), ok, failed, lp.Skipped, notified)
	} else {
		b.WriteString("no pass finished yet\n")
	}

	fmt.Fprintf(&b, "failing (%d)", len(snap.Failing))
	for i, id := range snap.Failing {
		if i == maxListed {
			fmt.Fprintf(&b, "\n  ... and %d more", len(snap.Failing)-maxListed)
			break
		}
		fmt.Fprintf(&b, "\n  %s", id)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "sleeping (%d)", len(snap.Sleeping))
	for i, s := range snap.Sleeping {
		if i == maxListed {
			fmt.Fprintf(&b, "\n  ... and %d more", len(snap.Sleeping)-maxListed)
			break
		}
		fmt.Fprintf(&b, "\n  %s until %s (in %s)", s.ID, stamp(s.ReadyAt), s.ReadyAt.Sub(now).Round(time.Second))
	}
	return b.String()
}
