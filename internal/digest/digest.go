// Package digest sends a periodic status summary through the notifier.
package digest

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"scriptwatch/internal/scheduler"
	logx "scriptwatch/pkg/logx"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Source returns the current loop state.
type Source func() scheduler.Snapshot

type Service struct {
	mu   sync.Mutex
	c    *cron.Cron
	spec string
	loc  *time.Location
	ctx  context.Context

	source Source
	notify Notifier
	log    logx.Logger
	now    func() time.Time
}

func New(source Source, n Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{source: source, notify: n, log: log, now: time.Now}
}

// Apply (re)schedules the digest. An empty spec disables it.
func (s *Service) Apply(spec string, loc *time.Location) error {
	var parsed Spec
	if spec != "" {
		var err error
		if parsed, err = ParseSchedule(spec); err != nil {
			return err
		}
	}
	if loc == nil {
		loc = time.UTC
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.spec && loc.String() == locName(s.loc) && (s.c != nil) == (spec != "") {
		return nil
	}
	s.stopLocked()
	s.spec, s.loc = spec, loc
	if spec == "" || s.ctx == nil {
		return nil
	}
	return s.startLocked(parsed)
}

func locName(loc *time.Location) string {
	if loc == nil {
		return ""
	}
	return loc.String()
}

// Start runs the cron loop until Stop. Safe to call before Apply.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	if s.spec == "" || s.c != nil {
		return nil
	}
	parsed, err := ParseSchedule(s.spec)
	if err != nil {
		return err
	}
	return s.startLocked(parsed)
}

func (s *Service) startLocked(parsed Spec) error {
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(parsed.Schedule, cron.FuncJob(s.send))
	c.Start()
	s.c = c
	s.log.Info("digest scheduled", logx.String("spec", s.spec), logx.String("tz", s.loc.String()))
	return nil
}

// Next returns the next digest time, zero if disabled.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.ctx = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Service) stopLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
}

func (s *Service) send() {
	s.mu.Lock()
	ctx, loc := s.ctx, s.loc
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	text := Summary(s.source(), s.now(), loc)
	if err := s.notify.Notify(ctx, text); err != nil {
		s.log.Warn("digest not queued", logx.Err(err))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
