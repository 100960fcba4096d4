// Package storage persists training runs, their epoch trace, the accuracy
// ledger and per-task network checkpoints.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

// dialect captures the few differences between the SQL backends.
type dialect struct {
	name   string
	schema string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

// SQLStore implements domainOWM.RunStore over database/sql.
type SQLStore struct {
	mu      sync.RWMutex
	db      *sql.DB
	dialect dialect
	stats   *StoreStats
}

// StoreStats contains store statistics.
type StoreStats struct {
	Runs        int64 `json:"runs"`
	Epochs      int64 `json:"epochs"`
	Tasks       int64 `json:"tasks"`
	Checkpoints int64 `json:"checkpoints"`
}

var _ domainOWM.RunStore = (*SQLStore)(nil)

// Open picks a backend from dsn: postgres:// or postgresql:// URLs and
// key=value strings containing host= go to PostgreSQL, anything else is
// treated as a SQLite path.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	if IsPostgresDSN(dsn) {
		return NewPostgresStore(ctx, PostgresConfig{DSN: dsn})
	}
	return NewSQLiteStore(ctx, dsn)
}

// IsPostgresDSN reports whether dsn addresses a PostgreSQL server.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	store := &SQLStore{db: db, dialect: d, stats: &StoreStats{}}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Backend returns the dialect name.
func (s *SQLStore) Backend() string {
	return s.dialect.name
}

// Stats returns a copy of the write counters.
func (s *SQLStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.stats
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

// CreateRun inserts a new run.
func (s *SQLStore) CreateRun(ctx context.Context, run *domainOWM.Run) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = domainOWM.RunStatusRunning
	}

	_, err = s.exec(ctx, `
		INSERT INTO runs (id, config_json, status, final_accuracy, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, NULL)`,
		run.ID, string(cfg), string(run.Status), run.FinalAccuracy, run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	s.mu.Lock()
	s.stats.Runs++
	s.mu.Unlock()
	return nil
}

// CompleteRun sets the terminal status and final accuracy of a run.
func (s *SQLStore) CompleteRun(ctx context.Context, runID string, status domainOWM.RunStatus, finalAccuracy float64) error {
	res, err := s.exec(ctx, `
		UPDATE runs SET status = ?, final_accuracy = ?, completed_at = ? WHERE id = ?`,
		string(status), finalAccuracy, time.Now().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domainOWM.ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run.
func (s *SQLStore) GetRun(ctx context.Context, runID string) (*domainOWM.Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, config_json, status, final_accuracy, started_at, completed_at
		FROM runs WHERE id = ?`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domainOWM.ErrRunNotFound, runID)
	}
	return run, err
}

// ListRuns returns runs, most recent first.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]*domainOWM.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, config_json, status, final_accuracy, started_at, completed_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domainOWM.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*domainOWM.Run, error) {
	var (
		run       domainOWM.Run
		cfg       string
		status    string
		started   int64
		completed sql.NullInt64
	)
	if err := row.Scan(&run.ID, &cfg, &status, &run.FinalAccuracy, &started, &completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfg), &run.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config of run %s: %w", run.ID, err)
	}
	run.Status = domainOWM.RunStatus(status)
	run.StartedAt = time.UnixMilli(started)
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		run.CompletedAt = &t
	}
	return &run, nil
}

// RecordEpoch stores the summary of one epoch. Re-recording the same epoch
// overwrites it.
func (s *SQLStore) RecordEpoch(ctx context.Context, runID string, st domainOWM.EpochStats) error {
	_, err := s.exec(ctx, `
		INSERT INTO epochs (run_id, task, epoch, immune, extension, batches, samples, hits, accuracy, held_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, task, epoch) DO UPDATE SET
			immune = excluded.immune,
			extension = excluded.extension,
			batches = excluded.batches,
			samples = excluded.samples,
			hits = excluded.hits,
			accuracy = excluded.accuracy,
			held_out = excluded.held_out`,
		runID, st.Task, st.Epoch, st.Immune, st.Extension, st.Batches, st.Samples, st.Hits, st.Accuracy, st.HeldOut)
	if err != nil {
		return fmt.Errorf("failed to record epoch %d of task %d: %w", st.Epoch, st.Task, err)
	}

	s.mu.Lock()
	s.stats.Epochs++
	s.mu.Unlock()
	return nil
}

// ListEpochs returns the epochs of one task in order; task < 0 lists all.
func (s *SQLStore) ListEpochs(ctx context.Context, runID string, task int) ([]domainOWM.EpochStats, error) {
	query := `
		SELECT task, epoch, immune, extension, batches, samples, hits, accuracy, held_out
		FROM epochs WHERE run_id = ?`
	args := []interface{}{runID}
	if task >= 0 {
		query += ` AND task = ?`
		args = append(args, task)
	}
	query += ` ORDER BY task, epoch`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list epochs: %w", err)
	}
	defer rows.Close()

	var out []domainOWM.EpochStats
	for rows.Next() {
		var st domainOWM.EpochStats
		if err := rows.Scan(&st.Task, &st.Epoch, &st.Immune, &st.Extension, &st.Batches,
			&st.Samples, &st.Hits, &st.Accuracy, &st.HeldOut); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecordTask stores a task's ledger entry.
func (s *SQLStore) RecordTask(ctx context.Context, runID string, r domainOWM.TaskResult) error {
	_, err := s.exec(ctx, `
		INSERT INTO tasks (run_id, task, phase, accuracy, epochs_run, extension_epochs, failed, error, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, task) DO UPDATE SET
			phase = excluded.phase,
			accuracy = excluded.accuracy,
			epochs_run = excluded.epochs_run,
			extension_epochs = excluded.extension_epochs,
			failed = excluded.failed,
			error = excluded.error,
			duration_ns = excluded.duration_ns`,
		runID, r.Task, string(r.Phase), r.Accuracy, r.EpochsRun, r.ExtensionEpochs, r.Failed, r.Error, int64(r.Duration))
	if err != nil {
		return fmt.Errorf("failed to record task %d: %w", r.Task, err)
	}

	s.mu.Lock()
	s.stats.Tasks++
	s.mu.Unlock()
	return nil
}

// TaskResults returns the ledger of a run in task order.
func (s *SQLStore) TaskResults(ctx context.Context, runID string) ([]domainOWM.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT task, phase, accuracy, epochs_run, extension_epochs, failed, error, duration_ns
		FROM tasks WHERE run_id = ? ORDER BY task`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []domainOWM.TaskResult
	for rows.Next() {
		var (
			r     domainOWM.TaskResult
			phase string
			dur   int64
		)
		if err := rows.Scan(&r.Task, &phase, &r.Accuracy, &r.EpochsRun, &r.ExtensionEpochs,
			&r.Failed, &r.Error, &dur); err != nil {
			return nil, err
		}
		r.Phase = domainOWM.TaskPhase(phase)
		r.Duration = time.Duration(dur)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveCheckpoint stores every layer's weights and projection for a task and
// drops the run's checkpoints of that task and earlier ones.
func (s *SQLStore) SaveCheckpoint(ctx context.Context, cp *domainOWM.Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM checkpoint_layers WHERE run_id = ? AND task <= ?`),
		cp.RunID, cp.Task); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}

	for i, layer := range cp.Layers {
		w, err := layer.Weights.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode weights of layer %d: %w", i, err)
		}
		p, err := layer.Projection.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode projection of layer %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO checkpoint_layers (run_id, task, layer, weights, projection, created_at, updates)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			cp.RunID, cp.Task, i, w, p, cp.CreatedAt.UnixMilli(), layer.Updates); err != nil {
			return fmt.Errorf("failed to store layer %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	s.mu.Lock()
	s.stats.Checkpoints++
	s.mu.Unlock()
	return nil
}

// LatestCheckpoint loads the checkpoint of the highest task of a run.
func (s *SQLStore) LatestCheckpoint(ctx context.Context, runID string) (*domainOWM.Checkpoint, error) {
	var task sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT MAX(task) FROM checkpoint_layers WHERE run_id = ?`), runID).Scan(&task); err != nil {
		return nil, fmt.Errorf("failed to find checkpoint: %w", err)
	}
	if !task.Valid {
		return nil, fmt.Errorf("%w: run %s", domainOWM.ErrCheckpointNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT layer, weights, projection, created_at, updates
		FROM checkpoint_layers WHERE run_id = ? AND task = ? ORDER BY layer`), runID, task.Int64)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	defer rows.Close()

	cp := &domainOWM.Checkpoint{RunID: runID, Task: int(task.Int64)}
	for rows.Next() {
		var (
			layer   int
			w, p    []byte
			created int64
			updates int64
		)
		if err := rows.Scan(&layer, &w, &p, &created, &updates); err != nil {
			return nil, err
		}
		if layer != len(cp.Layers) {
			return nil, fmt.Errorf("checkpoint of run %s task %d: missing layer %d", runID, cp.Task, len(cp.Layers))
		}
		snap := domainOWM.LayerSnapshot{Updates: updates}
		snap.Weights = &mat.Dense{}
		if err := snap.Weights.UnmarshalBinary(w); err != nil {
			return nil, fmt.Errorf("failed to decode weights of layer %d: %w", layer, err)
		}
		snap.Projection = &mat.Dense{}
		if err := snap.Projection.UnmarshalBinary(p); err != nil {
			return nil, fmt.Errorf("failed to decode projection of layer %d: %w", layer, err)
		}
		cp.Layers = append(cp.Layers, snap)
		cp.CreatedAt = time.UnixMilli(created)
	}
	return cp, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
