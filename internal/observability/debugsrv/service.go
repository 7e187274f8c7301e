// Package debugsrv runs the optional operator HTTP endpoint: a liveness
// probe, a JSON status snapshot of the scheduler and pprof profiles.
package debugsrv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "scriptwatch/internal/runtime/supervisor"
	"scriptwatch/internal/scheduler"
	logx "scriptwatch/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

// Config controls the server. A non-loopback Addr needs Token or
// AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool
	// Stale makes /healthz fail when no pass finished for this long. 0 disables.
	Stale time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Source returns the current scheduler snapshot.
type Source func() scheduler.Snapshot

// Service owns at most one running server and swaps it on Reconfigure.
type Service struct {
	log    logx.Logger
	source Source
	now    func() time.Time

	mu      sync.Mutex
	tasks   func() []rtsup.TaskInfo
	running *server
	started time.Time
}

// server is one listener with the config it was built from.
type server struct {
	cfg  Config
	ln   net.Listener
	http *http.Server
	sup  *rtsup.Supervisor
}

func New(source Source, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{source: source, log: log, now: time.Now}
}

// SetTasks exposes the app's supervised goroutines on /status.
func (s *Service) SetTasks(fn func() []rtsup.TaskInfo) {
	s.mu.Lock()
	s.tasks = fn
	s.mu.Unlock()
}

// Addr returns the bound listener address, empty when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return ""
	}
	return s.running.ln.Addr().String()
}

// Reconfigure brings the server in line with cfg: it stops a server that is
// disabled or whose settings changed, then starts one if cfg is enabled.
// Failures are logged; the rest of the app keeps running.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	cur := s.running
	s.mu.Unlock()
	if cur != nil && cur.cfg == cfg {
		return
	}
	if cur != nil {
		s.Stop(ctx)
	}
	if !cfg.Enabled {
		return
	}
	if err := s.start(ctx, cfg); err != nil {
		s.log.Error("debug server not started", logx.String("addr", cfg.Addr), logx.Err(err))
	}
}

func (s *Service) start(ctx context.Context, cfg Config) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			return fmt.Errorf("refusing non-loopback %s without a token", addr)
		}
		s.log.Warn("debug server exposed without token", logx.String("addr", addr))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != nil {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &server{
		cfg: cfg,
		ln:  ln,
		http: &http.Server{
			Handler:           s.Handler(cfg),
			ReadHeaderTimeout: cfg.ReadTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		sup: rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	srv.sup.Go("http.serve", func(context.Context) error {
		if err := srv.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("debug server failed", logx.Err(err))
			return err
		}
		return nil
	})
	// app shutdown cancels ctx before Stop is reached
	srv.sup.Go0("http.shutdown", func(c context.Context) {
		<-c.Done()
		srv.shutdown()
	})

	s.running = srv
	s.started = s.now()
	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", cfg.Pprof), logx.Bool("token_set", cfg.Token != ""))
	return nil
}

func (srv *server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.http.Shutdown(ctx); err != nil {
		_ = srv.http.Close()
	}
}

// Stop shuts the server down and waits for it, at most until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.running
	s.running = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := srv.sup.Stop(ctx); err != nil {
		s.log.Debug("debug server stop", logx.Err(err))
	}
	s.log.Info("debug server stopped")
}
