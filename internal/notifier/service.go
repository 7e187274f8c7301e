package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"scriptwatch/internal/eventbus"
	rtsup "scriptwatch/internal/runtime/supervisor"
	kit "scriptwatch/internal/transport"
	logx "scriptwatch/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Defaults applied to zero Config fields.
const (
	DefaultWorkers       = 1
	DefaultQueueSize     = 256
	DefaultRatePerSec    = 1
	DefaultRetryBase     = time.Second
	DefaultRetryMaxDelay = 10 * time.Second
	DefaultSendTimeout   = 15 * time.Second
)

// message is one queued notification.
type message struct {
	text   string
	queued time.Time
}

// Service is the async delivery pipeline. Safe for concurrent use.
type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	queue    chan message
	open     bool           // Notify accepts messages
	inflight sync.WaitGroup // Notify calls between the open check and the send
	sup      *rtsup.Supervisor
	stopping chan struct{}

	hist history
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log, bus: bus, hist: history{max: historyCap}}
	s.cfg, s.limiter = withDefaults(cfg)
	return s
}

// Apply swaps target, rate and retry settings for subsequent sends. Worker
// count and queue size apply on the next Start.
func (s *Service) Apply(cfg Config) {
	c, lim := withDefaults(cfg)
	s.mu.Lock()
	s.cfg, s.limiter = c, lim
	s.mu.Unlock()
}

func withDefaults(cfg Config) (Config, *rate.Limiter) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	// burst of one second's worth, so a pass with several failures goes out promptly
	return cfg, rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start opens the queue and launches the workers. Calling Start on a
// running service does nothing; after Stop it starts a fresh queue.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if wait := s.stopping; wait != nil {
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	q := make(chan message, s.cfg.QueueSize)
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("sup", "workers"))),
		// a failed delivery must not stop the checks
		rtsup.WithCancelOnError(false),
	)
	s.queue, s.sup, s.open = q, sup, true
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := range workers {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			if s.drain(c, q) {
				return nil
			}
			if c.Err() != nil {
				return context.Canceled
			}
			return errors.New("worker stopped early")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop closes intake and waits until queued messages are delivered or ctx
// ends; on timeout the remaining messages are abandoned.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	if wait := s.stopping; wait != nil {
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopping, s.open = done, false
	q, sup := s.queue, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.inflight.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.sup, s.stopping = nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if n := len(q); n > 0 {
			s.log.Warn("notifier stop timed out; dropping queued messages", logx.Int("queued", n))
		}
		sup.Cancel()
	}
}

// Notify queues text for delivery and returns without waiting for the
// network. Blank text is ignored.
func (s *Service) Notify(ctx context.Context, text string) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrStopped
	}
	q, target := s.queue, s.cfg.Target
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case q <- message{text: text, queued: time.Now()}:
		return nil
	default:
		s.emit(eventbus.TypeNotifierDrop, target, message{text: text, queued: time.Now()}, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

// Snapshot returns delivered messages, oldest first.
func (s *Service) Snapshot() []HistoryItem { return s.hist.list() }
