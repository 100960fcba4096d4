package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		status TEXT NOT NULL,
		final_accuracy REAL DEFAULT 0,
		started_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL,
		task INTEGER NOT NULL,
		epoch INTEGER NOT NULL,
		immune INTEGER NOT NULL DEFAULT 0,
		extension INTEGER NOT NULL DEFAULT 0,
		batches INTEGER NOT NULL,
		samples INTEGER NOT NULL,
		hits INTEGER NOT NULL,
		accuracy REAL NOT NULL,
		held_out REAL NOT NULL,
		PRIMARY KEY (run_id, task, epoch),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		run_id TEXT NOT NULL,
		task INTEGER NOT NULL,
		phase TEXT NOT NULL,
		accuracy REAL NOT NULL,
		epochs_run INTEGER NOT NULL,
		extension_epochs INTEGER NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		duration_ns INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, task),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS checkpoint_layers (
		run_id TEXT NOT NULL,
		task INTEGER NOT NULL,
		layer INTEGER NOT NULL,
		weights BLOB NOT NULL,
		projection BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		updates INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, task, layer),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// NewSQLiteStore opens a SQLite-backed store at path (":memory:" for an
// in-process database).
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return newSQLStore(ctx, db, dialect{name: "sqlite", schema: sqliteSchema})
}
