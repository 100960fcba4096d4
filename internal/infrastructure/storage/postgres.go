package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		status TEXT NOT NULL,
		final_accuracy DOUBLE PRECISION DEFAULT 0,
		started_at BIGINT NOT NULL,
		completed_at BIGINT
	);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		task INTEGER NOT NULL,
		epoch INTEGER NOT NULL,
		immune BOOLEAN NOT NULL DEFAULT FALSE,
		extension BOOLEAN NOT NULL DEFAULT FALSE,
		batches INTEGER NOT NULL,
		samples INTEGER NOT NULL,
		hits INTEGER NOT NULL,
		accuracy DOUBLE PRECISION NOT NULL,
		held_out DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, task, epoch)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		task INTEGER NOT NULL,
		phase TEXT NOT NULL,
		accuracy DOUBLE PRECISION NOT NULL,
		epochs_run INTEGER NOT NULL,
		extension_epochs INTEGER NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		error TEXT NOT NULL DEFAULT '',
		duration_ns BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, task)
	);

	CREATE TABLE IF NOT EXISTS checkpoint_layers (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		task INTEGER NOT NULL,
		layer INTEGER NOT NULL,
		weights BYTEA NOT NULL,
		projection BYTEA NOT NULL,
		created_at BIGINT NOT NULL,
		updates BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, task, layer)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	// DSN is a postgres:// URL or a key=value connection string. When empty
	// the connection string is built from the PG* environment variables.
	DSN string `json:"dsn" mapstructure:"dsn"`

	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max-open-conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn-max-lifetime"`
}

// DefaultPostgresConfig returns the default pool settings.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// NewPostgresStore connects to PostgreSQL and creates the schema.
func NewPostgresStore(ctx context.Context, config PostgresConfig) (*SQLStore, error) {
	defaults := DefaultPostgresConfig()
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if config.DSN == "" {
		config.DSN = envConnectionString()
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newSQLStore(ctx, db, dialect{name: "postgres", schema: postgresSchema, numbered: true})
}

func envConnectionString() string {
	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		getEnvOrDefault("PGHOST", "localhost"),
		getEnvOrDefault("PGPORT", "5432"),
		getEnvOrDefault("PGUSER", "postgres"),
		getEnvOrDefault("PGDATABASE", "owm"),
		getEnvOrDefault("PGSSLMODE", "disable"),
	)
	if pw := os.Getenv("PGPASSWORD"); pw != "" {
		connStr += fmt.Sprintf(" password=%s", pw)
	}
	return connStr
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
