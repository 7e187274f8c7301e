package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "scriptwatch/pkg/logx"
)

//go:embed migrations.sql
var schemaV1 string

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

const defaultBusyTimeout = 5 * time.Second

// pruneInterval is how many inserts happen between retention sweeps.
const pruneInterval = 500

const (
	insertRunSQL = `INSERT INTO runs
	(id, pass_id, script, at, duration_ms, exit_code, success, kind, notified, reason, text)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	recentRunsSQL = `SELECT id, pass_id, script, at, duration_ms, exit_code, success, kind, notified, reason, text
	FROM runs ORDER BY seq DESC LIMIT ?`
	pruneRunsSQL = `DELETE FROM runs WHERE seq <= (SELECT max(seq) FROM runs) - ?`
)

type sqliteStore struct {
	db     *sql.DB
	insert *sql.Stmt
	log    logx.Logger
	keep   int

	mu      sync.Mutex
	inserts int
}

// sqliteDSN builds a modernc.org/sqlite DSN with the pragmas applied on
// every new connection.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// one writer; the scheduler records serially anyway
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	ins, err := db.PrepareContext(ctx, insertRunSQL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, insert: ins, log: log, keep: cfg.Keep}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return err
	}
	switch {
	case v == schemaVersion:
		return nil
	case v > schemaVersion:
		return fmt.Errorf("database schema v%d is newer than supported v%d", v, schemaVersion)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.insert.ExecContext(ctx,
		r.ID, r.PassID, r.Script, r.At.UTC().Format(time.RFC3339Nano),
		r.DurationMS, r.ExitCode, r.Success, optional(r.Kind),
		r.Notified, optional(r.Reason), optional(truncateText(r.Text)),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.Script, err)
	}

	s.mu.Lock()
	s.inserts++
	sweep := s.inserts%pruneInterval == 0
	s.mu.Unlock()
	if sweep {
		s.prune()
	}
	return nil
}

func (s *sqliteStore) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := s.db.ExecContext(ctx, pruneRunsSQL, s.keep)
	if err != nil {
		s.log.Debug("run history prune failed", logx.Err(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("run history pruned", logx.Int64("rows", n))
	}
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > s.keep {
		limit = s.keep
	}
	rows, err := s.db.QueryContext(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (RunRecord, error) {
	var (
		r                  RunRecord
		at                 string
		kind, reason, text sql.NullString
	)
	err := rows.Scan(&r.ID, &r.PassID, &r.Script, &at, &r.DurationMS, &r.ExitCode,
		&r.Success, &kind, &r.Notified, &reason, &text)
	if err != nil {
		return r, err
	}
	if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return r, fmt.Errorf("run %s: bad timestamp %q", r.ID, at)
	}
	r.Kind, r.Reason, r.Text = kind.String, reason.String, text.String
	return r, nil
}

func (s *sqliteStore) Close() error {
	if s.insert != nil {
		_ = s.insert.Close()
	}
	return s.db.Close()
}

// optional maps "" to NULL.
func optional(v string) any {
	if v == "" {
		return nil
	}
	return v
}
