// Package storage keeps an append-only history of script runs.
//
// The history is an audit trail for operators (/history, post-mortems). It
// is never read back into scheduler state: a restart still starts with empty
// sleeping, failing and change-dedup state.
//
// Drivers:
//   - "file": JSON Lines file, compacted when it grows past a bound
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
package storage
