// Package eventbus carries in-process notifications about passes, script
// runs and notification delivery from the components that produce them to
// observers (event logging, tests).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypePassFinished   = "scheduler.pass"
	TypeScriptRan      = "script.ran"
	TypeNotifierSent   = "notifier.sent"
	TypeNotifierFailed = "notifier.failed"
	TypeNotifierDrop   = "notifier.dropped"
)

// Event is one published signal. Data holds a value type owned by the
// publisher (scheduler.PassReport, scheduler.ScriptReport,
// notifier.NotificationEvent).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving events of the given types (all
	// types when none are given) and a func that unsubscribes and closes it.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

func New() Bus {
	return &bus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *subscriber) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

type bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  atomic.Uint64
	dropped atomic.Uint64
}

func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *bus) Dropped() uint64 { return b.dropped.Load() }

func (b *bus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, max(buffer, 1))}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			// No Publish can be sending on ch while the write lock is held.
			b.mu.Lock()
			delete(b.subs, id)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
}
