package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"scriptwatch/internal/check"
	"scriptwatch/internal/eventbus"
	"scriptwatch/internal/runner"
	"scriptwatch/internal/storage"
	logx "scriptwatch/pkg/logx"
)

type Scheduler struct {
	mu     sync.Mutex
	cfg    Config
	state  *State
	last   *PassReport
	passes uint64

	runner   Runner
	notifier Notifier
	recorder Recorder
	bus      eventbus.Bus
	log      logx.Logger

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	heartbeat func()
}

func New(cfg Config, r Runner, n Notifier, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		state:    NewState(),
		runner:   r,
		notifier: n,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	s.cfg = normalize(cfg)
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalize(cfg Config) Config {
	if cfg.MinPassGap <= 0 {
		cfg.MinPassGap = DefaultMinPassGap
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = DefaultMaxSleep
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg
}

// Apply swaps pacing and concurrency settings. It takes effect on the next
// iteration; state is kept.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = normalize(cfg)
	s.mu.Unlock()
}

// Run loops until ctx is done. Pass errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", logx.Int("workers", s.config().Workers))
	for {
		_, err := s.Step(ctx)
		if ctx.Err() != nil {
			s.log.Info("scheduler stopped")
			return nil
		}
		if err != nil {
			s.log.Warn("pass failed", logx.Err(err))
		}
	}
}

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Step performs one loop iteration and reports whether a pass ran.
func (s *Scheduler) Step(ctx context.Context) (bool, error) {
	if s.heartbeat != nil {
		s.heartbeat()
	}
	now := s.now()

	s.mu.Lock()
	cfg := s.cfg
	next, remaining := s.state.Wake(now)
	s.mu.Unlock()

	if remaining && now.Before(next) {
		d := min(cfg.MaxSleep, time.Second+next.Sub(now))
		s.log.Trace("all due scripts sleeping", logx.Time("next", next), logx.Duration("sleep", d))
		return false, s.sleep(ctx, d)
	}
	if err := s.sleep(ctx, cfg.MinPassGap); err != nil {
		return false, err
	}
	_, err := s.RunPass(ctx)
	return true, err
}

type ran struct {
	res     runner.Result
	outcome check.Outcome
}

// RunPass executes every script that is not sleeping and commits the result.
// A pass interrupted by ctx leaves the state untouched.
func (s *Scheduler) RunPass(ctx context.Context) (PassReport, error) {
	rep := PassReport{ID: uuid.NewString(), StartedAt: s.now()}
	log := s.log.With(logx.String("pass", rep.ID))

	ids, err := s.runner.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list scripts: %w", err)
	}

	s.mu.Lock()
	workers := s.cfg.Workers
	todo := make([]check.ScriptID, 0, len(ids))
	for _, id := range ids {
		if s.state.IsSleeping(id) {
			rep.Skipped++
			continue
		}
		todo = append(todo, id)
	}
	s.mu.Unlock()

	results := make([]ran, len(todo))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, id := range todo {
		g.Go(func() error {
			log.Debug("running script", logx.String("script", string(id)))
			res := s.runner.Run(ctx, id)
			// Interpret right away so a manifest's last run is the time the
			// script finished, not the end of the pass.
			results[i] = ran{res: res, outcome: res.Outcome(s.now())}
			log.Debug("script finished",
				logx.String("script", string(id)),
				logx.Int("exit", res.Raw.ExitCode),
				logx.Duration("took", res.Duration),
			)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return rep, err
	}

	// Merge serially in listing order.
	var outbox []string
	s.mu.Lock()
	failing := make(map[check.ScriptID]struct{})
	rep.Scripts = make([]ScriptReport, 0, len(results))
	for _, r := range results {
		id := r.res.ID
		d := s.state.Dedup.Decide(id, r.outcome)
		sr := ScriptReport{
			ID:       id,
			ExitCode: r.res.Raw.ExitCode,
			Duration: r.res.Duration,
			Notified: d.Notify,
			Reason:   d.Reason,
			Text:     r.outcome.NotificationText(),
		}
		switch {
		case d.Notify && strings.TrimSpace(sr.Text) == "":
			sr.Notified, sr.Reason = false, ReasonEmptyText
		case d.Notify:
			outbox = append(outbox, sr.Text)
		}
		switch o := r.outcome.(type) {
		case check.Success:
			sr.Success = true
			s.state.Sleeping[id] = o.Manifest
		case check.Failure:
			sr.Kind = o.Kind
			failing[id] = struct{}{}
		}
		rep.Scripts = append(rep.Scripts, sr)
	}
	s.state.Dedup.ReplaceFailing(failing)
	rep.FinishedAt = s.now()
	last := rep
	s.last = &last
	s.passes++
	s.mu.Unlock()

	for _, text := range outbox {
		if err := s.notifier.Notify(ctx, text); err != nil {
			log.Warn("notification not queued", logx.Err(err))
		}
	}
	s.record(ctx, rep)
	s.publish(rep)

	ok, failed, notified := rep.Counts()
	log.Info("pass finished",
		logx.Int("ran", len(rep.Scripts)),
		logx.Int("skipped", rep.Skipped),
		logx.Int("ok", ok),
		logx.Int("failed", failed),
		logx.Int("notified", notified),
		logx.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, nil
}

func (s *Scheduler) record(ctx context.Context, rep PassReport) {
	if s.recorder == nil {
		return
	}
	for _, sr := range rep.Scripts {
		err := s.recorder.AppendRun(ctx, storage.RunRecord{
			ID:         uuid.NewString(),
			PassID:     rep.ID,
			Script:     string(sr.ID),
			At:         rep.FinishedAt,
			DurationMS: sr.Duration.Milliseconds(),
			ExitCode:   sr.ExitCode,
			Success:    sr.Success,
			Kind:       string(sr.Kind),
			Notified:   sr.Notified,
			Reason:     sr.Reason,
			Text:       sr.Text,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("run record not stored", logx.String("script", string(sr.ID)), logx.Err(err))
			return
		}
	}
}

func (s *Scheduler) publish(rep PassReport) {
	if s.bus == nil {
		return
	}
	for _, sr := range rep.Scripts {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScriptRan, Time: rep.FinishedAt, Data: sr})
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypePassFinished, Time: rep.FinishedAt, Data: rep})
}

// Snapshot returns a copy of the current state, sleepers ordered by wake time.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Sleeping: make([]SleepingInfo, 0, len(s.state.Sleeping)),
		Failing:  s.state.Dedup.Failing(),
		Passes:   s.passes,
	}
	for id, m := range s.state.Sleeping {
		snap.Sleeping = append(snap.Sleeping, SleepingInfo{ID: id, LastRun: m.LastRun, ReadyAt: m.ReadyAt(), OnlyIfChanged: m.OnlyIfChanged})
	}
	sort.Slice(snap.Sleeping, func(i, j int) bool {
		a, b := snap.Sleeping[i], snap.Sleeping[j]
		if !a.ReadyAt.Equal(b.ReadyAt) {
			return a.ReadyAt.Before(b.ReadyAt)
		}
		return a.ID < b.ID
	})
	if s.last != nil {
		cp := *s.last
		cp.Scripts = append([]ScriptReport(nil), s.last.Scripts...)
		snap.LastPass = &cp
	}
	return snap
}
