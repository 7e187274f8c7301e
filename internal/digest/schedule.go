package digest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind tells how a schedule string was interpreted.
type SpecKind int

const (
	SpecCron     SpecKind = iota // cron expression or @descriptor
	SpecDaily                    // HH:MM, every day at that wall time
	SpecInterval                 // fixed duration from start
)

func (k SpecKind) String() string {
	switch k {
	case SpecCron:
		return "cron"
	case SpecDaily:
		return "daily"
	case SpecInterval:
		return "interval"
	}
	return "unknown"
}

// Spec is a parsed digest schedule.
//
// Accepted forms:
//   - cron: "0 9 * * *", "@daily", "@every 6h", or "cron:<expr>"
//   - daily: "09:30"
//   - interval: "6h", "interval:45m", "every:90s" (at least 1s)
type Spec struct {
	Kind SpecKind
	// Expr is the cron expression actually scheduled; empty for intervals.
	Expr     string
	Every    time.Duration
	Schedule cron.Schedule
}

// ParseSchedule validates raw and returns its schedule.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}
	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		return cronSpec(SpecCron, rest)
	}
	for _, p := range []string{"interval:", "every:"} {
		if rest, ok := cutPrefixFold(s, p); ok {
			return intervalSpec(rest)
		}
	}

	switch {
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return cronSpec(SpecCron, s)
	case strings.Contains(s, ":"):
		return dailySpec(s)
	default:
		return intervalSpec(s)
	}
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func cronSpec(kind SpecKind, expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron schedule required")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: kind, Expr: expr, Schedule: sched}, nil
}

func dailySpec(hhmm string) (Spec, error) {
	h, m, ok := strings.Cut(hhmm, ":")
	hour, herr := strconv.Atoi(h)
	minute, merr := strconv.Atoi(m)
	if !ok || herr != nil || merr != nil || len(m) != 2 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Spec{}, fmt.Errorf("invalid time of day %q (want HH:MM, 00:00-23:59)", hhmm)
	}
	return cronSpec(SpecDaily, fmt.Sprintf("%d %d * * *", minute, hour))
}

func intervalSpec(v string) (Spec, error) {
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '0 9 * * *', HH:MM like '09:30', or a duration like '6h')", v)
	}
	if d < time.Second {
		return Spec{}, fmt.Errorf("interval must be at least 1s, got %s", d)
	}
	return Spec{Kind: SpecInterval, Every: d, Schedule: cron.Every(d)}, nil
}
