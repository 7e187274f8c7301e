// Package app wires configuration, the scheduler loop and its supporting
// services into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"scriptwatch/internal/commands"
	"scriptwatch/internal/config"
	"scriptwatch/internal/digest"
	"scriptwatch/internal/eventbus"
	"scriptwatch/internal/notifier"
	"scriptwatch/internal/observability/debugsrv"
	"scriptwatch/internal/runner"
	rtsup "scriptwatch/internal/runtime/supervisor"
	"scriptwatch/internal/scheduler"
	"scriptwatch/internal/storage"
	kit "scriptwatch/internal/transport"
	"scriptwatch/internal/transport/console"
	"scriptwatch/internal/transport/telegram"
	logx "scriptwatch/pkg/logx"
	"scriptwatch/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	res  *config.Resolved
	sup  *rtsup.Supervisor

	base  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    *systemd.Notifier

	adapter kit.Adapter
	exec    *runner.Exec
	notif   *notifier.Service
	sched   *scheduler.Scheduler
	digest  *digest.Service
	cmdm    *commands.Manager
	dbg     *debugsrv.Service

	updates chan kit.Update
}

// New loads the configuration and builds every component. Nothing runs
// until Start. An empty cfgPath uses defaults plus environment overrides.
func New(cfgPath string) (*App, error) {
	return newApp(cfgPath, os.Stdout)
}

// newApp is New with the console backend writing to out.
func newApp(cfgPath string, out io.Writer) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if st, err := os.Stat(res.ScriptsDir); err != nil {
		return nil, fmt.Errorf("scripts.dir: %w", err)
	} else if !st.IsDir() {
		return nil, fmt.Errorf("scripts.dir: %s is not a directory", res.ScriptsDir)
	}

	logSvc, base := logx.New(mapLogging(res))
	log := base.With(logx.String("comp", "app"))
	comp := func(name string) logx.Logger { return base.With(logx.String("comp", name)) }

	ad, err := newAdapter(res, out, comp("telegram"))
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(mapStorage(res), comp("storage"))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", res.StorageDriver), logx.String("path", res.StoragePath))
	}

	bus := eventbus.New()
	sd := systemd.New(res.SystemdNotify, comp("systemd"))

	exec := runner.New(res.ScriptsDir, res.ScriptTimeout, comp("runner"))
	notif := notifier.New(mapNotifier(res), ad, comp("notifier"), bus)

	opts := []scheduler.Option{
		scheduler.WithBus(bus),
		scheduler.WithHeartbeat(sd.Heartbeat),
	}
	if store != nil {
		opts = append(opts, scheduler.WithRecorder(store))
	}
	sched := scheduler.New(mapScheduler(res), exec, notif, comp("scheduler"), opts...)

	dg := digest.New(sched.Snapshot, notif, comp("digest"))
	if err := dg.Apply(res.DigestSchedule, res.DigestTimezone); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("digest.schedule: %w", err)
	}

	a := &App{
		cfgm:    cfgm,
		res:     res,
		base:    base,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sd:      sd,
		adapter: ad,
		exec:    exec,
		notif:   notif,
		sched:   sched,
		digest:  dg,
		dbg:     debugsrv.New(sched.Snapshot, comp("debug")),
		updates: make(chan kit.Update, 64),
	}
	if res.Backend == config.BackendTelegram && res.Commands {
		a.cmdm = commands.NewManager(comp("commands"), ad, res.Owners)
	}
	return a, nil
}

func newAdapter(res *config.Resolved, out io.Writer, log logx.Logger) (kit.Adapter, error) {
	switch res.Backend {
	case config.BackendTest:
		return console.New(out), nil
	case config.BackendTelegram:
		ad, err := telegram.New(telegram.Config{
			Token:       res.TelegramToken,
			PollTimeout: res.PollTimeout,
			Poll:        res.Commands,
		}, log)
		if err != nil {
			return nil, err
		}
		return ad, nil
	}
	return nil, fmt.Errorf("notify.backend: unknown backend %q", res.Backend)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.base.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}
	// Detached from cancellation so Stop can drain the queue.
	a.notif.Start(context.WithoutCancel(ctx))
	if err := a.digest.Start(runCtx); err != nil {
		return err
	}

	if a.cmdm != nil {
		a.cmdm.Register(runCtx, commands.Builtin(commands.Services{
			Snapshot:   a.sched.Snapshot,
			Store:      a.store,
			Sent:       a.notif.Snapshot,
			NextDigest: a.digest.Next,
			Location:   a.res.DigestTimezone,
		})...)
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
	}

	a.sup.Go("scheduler", func(c context.Context) error {
		return a.sched.Run(c)
	})

	// Keep event logging at debug; passes are already summarized at info.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	a.dbg.SetTasks(a.sup.Tasks)
	a.dbg.Reconfigure(runCtx, a.res.Debug)

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sd.Ready()
	a.sd.Status("watching " + a.res.ScriptsDir)
	a.log.Info("app started",
		logx.String("scripts", a.res.ScriptsDir),
		logx.String("backend", a.res.Backend),
		logx.Bool("commands", a.cmdm != nil),
	)
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case scheduler.ScriptReport:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("script", string(d.ID)),
			logx.Bool("success", d.Success), logx.Bool("notified", d.Notified), logx.String("reason", d.Reason))
	case notifier.NotificationEvent:
		if d.Error != "" {
			a.log.Warn("event", logx.String("type", e.Type), logx.Int("attempts", d.Attempts), logx.String("err", d.Error))
			return
		}
		a.log.Debug("event", logx.String("type", e.Type), logx.Int("size", d.Size),
			logx.Int("attempts", d.Attempts), logx.Duration("latency", d.Latency))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) reloadLoop(c context.Context) {
	sub, unsub := a.cfgm.Subscribe()
	defer unsub()
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	res, err := config.Resolve(newCfg)
	if err != nil {
		// The validator already rejected invalid files; keep running config.
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	if keys := config.RestartRequired(oldCfg, newCfg); len(keys) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("keys", strings.Join(keys, ",")))
	}

	a.logs.Apply(mapLogging(res))
	a.exec.SetTimeout(res.ScriptTimeout)
	a.sched.Apply(mapScheduler(res))
	a.notif.Apply(mapNotifier(res))
	if a.cmdm != nil {
		a.cmdm.SetOwners(res.Owners)
	}
	if err := a.digest.Apply(res.DigestSchedule, res.DigestTimezone); err != nil {
		a.log.Warn("digest not rescheduled", logx.Err(err))
	}
	a.dbg.Reconfigure(c, res.Debug)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order, each step bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel the run context first so the scheduler unwinds immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			// never extend the caller's deadline
			max = min(max, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("digest", time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("debug", 2*time.Second, func(c context.Context) error { a.dbg.Stop(c); return nil })
	// Wait for the loop and dispatcher before draining notifications.
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
