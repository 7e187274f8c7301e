// Package supervisor runs the long-lived goroutines of scriptwatch (the
// scheduler loop, notifier workers, the telegram poller, config watch) under
// one cancellable context with panic recovery and optional restarts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "scriptwatch/pkg/logx"
)

// TaskInfo describes one running supervised goroutine.
type TaskInfo struct {
	Name     string    `json:"name"`
	Since    time.Time `json:"since"`
	Restarts int       `json:"restarts,omitempty"`
}

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	mu       sync.Mutex
	tasks    map[string]*TaskInfo
	firstErr error

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first error or panic.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		tasks:  map[string]*TaskInfo{},
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Active is the number of supervised goroutines still running.
func (s *Supervisor) Active() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.tasks))
}

// Tasks lists running goroutines sorted by name.
func (s *Supervisor) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Err returns the first recorded failure.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) track(name string) *TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name
	for i := 2; s.tasks[key] != nil; i++ {
		key = fmt.Sprintf("%s#%d", name, i)
	}
	t := &TaskInfo{Name: key, Since: time.Now()}
	s.tasks[key] = t
	return t
}

func (s *Supervisor) untrack(t *TaskInfo) {
	s.mu.Lock()
	delete(s.tasks, t.Name)
	s.mu.Unlock()
}

// Go runs fn in a goroutine. A non-nil error other than context.Canceled,
// or a panic, is recorded and cancels the context with WithCancelOnError.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	t := s.track(name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(t)

		s.log.Debug("goroutine started", logx.String("name", name))
		err := s.call(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// call runs fn and turns a panic into an error carrying "panic in <name>".
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn(s.ctx)
}

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max        time.Duration
	stopOnCleanExit bool
	publish         bool
	healthy         time.Duration
}

// WithRestartBackoff sets the backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithPublishFirstError records failures as Err while still restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publish = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (default)
// or counts as a failure.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

// GoRestart runs fn until it returns nil, returns context.Canceled or the
// context ends. Failures and panics restart it with jittered exponential
// backoff; a run that stayed up for 30s resets the backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second, stopOnCleanExit: true, healthy: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	t := s.track(name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(t)

		backoff := p.min
		for {
			started := time.Now()
			err := s.call(name, fn)
			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if p.stopOnCleanExit {
					return
				}
				err = errors.New("exited")
			}
			if p.publish {
				s.record(fmt.Errorf("%s: %w", name, err))
			}
			if time.Since(started) >= p.healthy {
				backoff = p.min
			}
			wait := jitter(backoff)
			s.mu.Lock()
			t.Restarts++
			s.mu.Unlock()
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff = min(backoff*2, p.max)
		}
	}()
}

// jitter adds up to 20% to d.
func jitter(d time.Duration) time.Duration {
	if j := int64(d) / 5; j > 0 {
		return d + time.Duration(time.Now().UnixNano()%(j+1))
	}
	return d
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until all goroutines returned or ctx is done. It returns the
// first recorded failure, or ctx.Err() on timeout.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.record(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

func (s *Supervisor) record(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
}
