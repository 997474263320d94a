// Package sqlite provides the authoritative SQLite store for confquest:
// completions, the balance journal, profiles and like sets.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/confquest/confquest/internal/infra/metrics"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Single writer: every check-then-insert runs serialized on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db, now: time.Now}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// PingContext checks database connectivity with a deadline.
func (d *DB) PingContext(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// SetNow overrides the journal timestamp source (tests).
func (d *DB) SetNow(now func() time.Time) { d.now = now }

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Cached authoritative balances; balance_journal is the source they derive from.
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id      TEXT PRIMARY KEY,
			points       INTEGER NOT NULL DEFAULT 0,
			coins_earned INTEGER NOT NULL DEFAULT 0,
			updated_at   INTEGER NOT NULL
		)`,

		// Append-only task ledger. unique_key encodes the kind's uniqueness
		// predicate; NULL for unrewarded re-posts (NULLs never conflict).
		`CREATE TABLE IF NOT EXISTS completions (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			task_kind      TEXT NOT NULL,
			unique_key     TEXT,
			points_awarded INTEGER NOT NULL DEFAULT 0,
			metadata       TEXT NOT NULL DEFAULT '{}',
			day            TEXT NOT NULL,
			completed_at   INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_completions_predicate ON completions(user_id, unique_key)`,
		`CREATE INDEX IF NOT EXISTS idx_completions_user_kind ON completions(user_id, task_kind, completed_at)`,

		// Every balance movement with the running balance after it.
		`CREATE TABLE IF NOT EXISTS balance_journal (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			field      TEXT NOT NULL,
			delta      INTEGER NOT NULL,
			balance    INTEGER NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			ref        TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_journal_ref ON balance_journal(user_id, field, ref)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_user ON balance_journal(user_id, field, id)`,

		// Liked-by sets; membership rows are the server's current array.
		`CREATE TABLE IF NOT EXISTS likes (
			target_id  TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (target_id, user_id)
		)`,

		// Reconciliation markers for mutations whose second half is unconfirmed.
		`CREATE TABLE IF NOT EXISTS discrepancies (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			kind          TEXT NOT NULL,
			completion_id TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			field         TEXT NOT NULL,
			delta         INTEGER NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			ref           TEXT,
			error         TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL,
			resolved_at   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_discrepancies_open ON discrepancies(resolved_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil error.
func (d *DB) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
