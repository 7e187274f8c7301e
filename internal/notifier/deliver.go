package notifier

import (
	"context"
	"math/rand/v2"
	"time"

	"scriptwatch/internal/eventbus"
	kit "scriptwatch/internal/transport"
	logx "scriptwatch/pkg/logx"
)

// drain delivers messages until q is closed (true) or ctx ends (false).
func (s *Service) drain(ctx context.Context, q <-chan message) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case m, ok := <-q:
			if !ok {
				return true
			}
			s.deliver(ctx, m)
		}
	}
}

// deliver sends one message with up to RetryMax retries. Settings are read
// once so a concurrent Apply does not change a send midway.
func (s *Service) deliver(ctx context.Context, m message) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()
	if s.adapter == nil {
		return
	}

	attempts := cfg.RetryMax + 1
	opts := cfg.Options
	var err error
	for n := 1; n <= attempts; n++ {
		if werr := lim.Wait(ctx); werr != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = s.adapter.SendText(callCtx, cfg.Target, m.text, &opts)
		cancel()
		if err == nil {
			s.hist.add(HistoryItem{At: time.Now(), Text: m.text, Attempts: n, Latency: time.Since(m.queued)})
			s.emit(eventbus.TypeNotifierSent, cfg.Target, m, n, nil)
			return
		}
		s.log.Debug("send failed", logx.Err(err), logx.Int("attempt", n), logx.Int("of", attempts))
		if n == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, n))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	s.log.Warn("notification dropped after retries", logx.Err(err), logx.Int("attempts", attempts), logx.Int("size", len(m.text)))
	s.emit(eventbus.TypeNotifierFailed, cfg.Target, m, attempts, err)
}

// retryDelay is the pause after failed attempt n (1-based): RetryBase
// doubled per attempt, jittered to 70-130%, never above RetryMaxDelay.
func retryDelay(cfg Config, n int) time.Duration {
	base, ceil := cfg.RetryBase, cfg.RetryMaxDelay
	if base <= 0 {
		base = DefaultRetryBase
	}
	if ceil <= 0 {
		ceil = DefaultRetryMaxDelay
	}
	d := base
	for i := 1; i < n && d < ceil; i++ {
		d *= 2
	}
	d = min(d, ceil)
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(max(d, 0), ceil)
}

func (s *Service) emit(typ string, to kit.ChatTarget, m message, attempts int, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{
		ChatID:   to.ChatID,
		ThreadID: to.ThreadID,
		Size:     len(m.text),
		Attempts: attempts,
		Latency:  now.Sub(m.queued),
		At:       now,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}
