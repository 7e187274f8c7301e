package scheduler

import (
	"time"

	"scriptwatch/internal/check"
	"scriptwatch/internal/tracker"
)

// State is everything the loop remembers between passes.
type State struct {
	// Sleeping holds scripts that succeeded and are waiting for their
	// interval to elapse.
	Sleeping map[check.ScriptID]check.Manifest
	// Dedup holds the known-failing set and the last texts of
	// only_if_changed scripts.
	Dedup *tracker.Tracker
}

func NewState() *State {
	return &State{
		Sleeping: map[check.ScriptID]check.Manifest{},
		Dedup:    tracker.New(),
	}
}

// Wake drops every sleeper that is due at now. It returns the earliest
// wake-up time over the sleepers present before the drop, and whether any
// sleeper remains.
func (st *State) Wake(now time.Time) (next time.Time, remaining bool) {
	for id, m := range st.Sleeping {
		at := m.ReadyAt()
		if next.IsZero() || at.Before(next) {
			next = at
		}
		if !m.SleepingAt(now) {
			delete(st.Sleeping, id)
		}
	}
	return next, len(st.Sleeping) > 0
}

// IsSleeping reports whether id is skipped by the next pass.
func (st *State) IsSleeping(id check.ScriptID) bool {
	_, ok := st.Sleeping[id]
	return ok
}
