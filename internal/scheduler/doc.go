// Package scheduler drives the polling loop over the scripts directory.
//
// Each iteration first wakes scripts whose interval elapsed, then either
// sleeps until the earliest sleeper is due or waits the minimum pass gap and
// runs a pass. A pass executes every script that is not sleeping, applies the
// dedup policy to each outcome, hands notifications to the notifier and
// finally commits the new sleeping and failing sets.
//
// State lives in one State value owned by the Scheduler. It is created empty
// at startup and never persisted.
package scheduler
