package scheduler

import (
	"context"
	"time"

	"scriptwatch/internal/eventbus"
)

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleeper replaces the context-aware sleep used between iterations.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithHeartbeat registers fn to be called at the start of every iteration.
func WithHeartbeat(fn func()) Option {
	return func(s *Scheduler) { s.heartbeat = fn }
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
