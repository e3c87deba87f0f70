package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := RequireLocalFS(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Journal writes come from many actor goroutines; serialize them on one
	// connection rather than fighting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the runner journal tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runner_log (
  id            TEXT PRIMARY KEY,
  definition    TEXT NOT NULL,
  status        TEXT NOT NULL,
  input         JSON,
  request_id    TEXT,
  created_at    TEXT NOT NULL,
  completed_at  TEXT,
  exit_status   INTEGER,
  last_error    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS runner_update (
  runner_id   TEXT NOT NULL REFERENCES runner_log(id) ON DELETE CASCADE,
  seq         INTEGER NOT NULL,
  kind        TEXT NOT NULL,
  payload     JSON NOT NULL,
  created_at  TEXT NOT NULL,
  PRIMARY KEY (runner_id, seq)
);`,
		`CREATE INDEX IF NOT EXISTS runner_log_status_created_at_idx ON runner_log(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS runner_log_completed_at_idx ON runner_log(completed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
