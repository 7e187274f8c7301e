// Package tracker decides whether a script outcome produces a notification.
//
// Two kinds of suppression apply, in order:
//   - repeat failure: a script already known to be failing never re-notifies
//     while it keeps failing;
//   - unchanged output: a successful script whose manifest sets
//     only_if_changed does not re-send a message identical to the last one.
package tracker

import (
	"sort"

	"scriptwatch/internal/check"
)

// Reasons reported in Decision.Reason.
const (
	ReasonNew           = "new"
	ReasonRepeatFailure = "repeat-failure"
	ReasonUnchanged     = "unchanged"
)

// Decision is the result of Decide.
type Decision struct {
	Notify bool
	Reason string
}

// Tracker holds the failure and change dedup state. It is not safe for
// concurrent use; the scheduler applies outcomes serially.
type Tracker struct {
	// KnownFailing is the set of scripts whose most recent run failed.
	KnownFailing map[check.ScriptID]struct{}
	// OldOutputs is the last notification text of only_if_changed scripts.
	OldOutputs map[check.ScriptID]string
}

func New() *Tracker {
	return &Tracker{
		KnownFailing: map[check.ScriptID]struct{}{},
		OldOutputs:   map[check.ScriptID]string{},
	}
}

// IsFailing reports whether id failed on its most recent run.
func (t *Tracker) IsFailing(id check.ScriptID) bool {
	_, ok := t.KnownFailing[id]
	return ok
}

// Decide applies the dedup policy to one outcome and records the text of
// only_if_changed scripts. KnownFailing is read, never written, here.
func (t *Tracker) Decide(id check.ScriptID, o check.Outcome) Decision {
	if !check.IsSuccess(o) && t.IsFailing(id) {
		return Decision{Notify: false, Reason: ReasonRepeatFailure}
	}

	text := o.NotificationText()
	d := Decision{Notify: true, Reason: ReasonNew}

	m, ok := check.ManifestOf(o)
	if ok && m.OnlyIfChanged {
		if prev, seen := t.OldOutputs[id]; seen && prev == text {
			d = Decision{Notify: false, Reason: ReasonUnchanged}
		}
		if t.OldOutputs == nil {
			t.OldOutputs = map[check.ScriptID]string{}
		}
		t.OldOutputs[id] = text
	}
	return d
}

// ReplaceFailing swaps the known-failing set for the one collected by a pass.
func (t *Tracker) ReplaceFailing(failing map[check.ScriptID]struct{}) {
	if failing == nil {
		failing = map[check.ScriptID]struct{}{}
	}
	t.KnownFailing = failing
}

// Failing returns the known-failing scripts sorted by name.
func (t *Tracker) Failing() []check.ScriptID {
	out := make([]check.ScriptID, 0, len(t.KnownFailing))
	for id := range t.KnownFailing {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
