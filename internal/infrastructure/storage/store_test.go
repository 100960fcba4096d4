package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testConfig() domainOWM.Config {
	cfg := domainOWM.DefaultConfig()
	cfg.ClassNum = 2
	cfg.Layers = []domainOWM.LayerConfig{{InputDim: 3, OutputDim: 2, Alpha: 1}}
	return cfg
}

func TestSQLStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &domainOWM.Run{ID: "run-1", Config: testConfig()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Status != domainOWM.RunStatusRunning || run.StartedAt.IsZero() {
		t.Fatalf("expected defaults to be filled, got %+v", run)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Config.ClassNum != 2 || len(got.Config.Layers) != 1 || got.Config.Layers[0].Alpha != 1 {
		t.Fatalf("config did not round trip: %+v", got.Config)
	}
	if got.CompletedAt != nil {
		t.Fatal("expected running run to have no completion time")
	}

	if err := store.CompleteRun(ctx, "run-1", domainOWM.RunStatusCompleted, 87.5); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	got, _ = store.GetRun(ctx, "run-1")
	if got.Status != domainOWM.RunStatusCompleted || got.FinalAccuracy != 87.5 || got.CompletedAt == nil {
		t.Fatalf("unexpected completed run %+v", got)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, domainOWM.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.CompleteRun(ctx, "missing", domainOWM.RunStatusFailed, 0); !errors.Is(err, domainOWM.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	later := &domainOWM.Run{ID: "run-2", Config: testConfig(), StartedAt: time.Now().Add(time.Minute)}
	if err := store.CreateRun(ctx, later); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Fatalf("expected newest run first, got %d runs", len(runs))
	}
}

func TestSQLStore_EpochsAndTasks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.CreateRun(ctx, &domainOWM.Run{ID: "r", Config: testConfig()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for task := 1; task >= 0; task-- {
		for epoch := 0; epoch < 3; epoch++ {
			st := domainOWM.EpochStats{Task: task, Epoch: epoch, Immune: epoch == 0, Batches: 10, Samples: 100, Hits: 50 + epoch, Accuracy: 50 + float64(epoch)}
			if err := store.RecordEpoch(ctx, "r", st); err != nil {
				t.Fatalf("RecordEpoch: %v", err)
			}
		}
	}
	// Overwrite the last epoch of task 0 as an extension epoch.
	if err := store.RecordEpoch(ctx, "r", domainOWM.EpochStats{Task: 0, Epoch: 2, Extension: true, HeldOut: 99}); err != nil {
		t.Fatalf("RecordEpoch: %v", err)
	}

	epochs, err := store.ListEpochs(ctx, "r", 0)
	if err != nil {
		t.Fatalf("ListEpochs: %v", err)
	}
	if len(epochs) != 3 || !epochs[0].Immune || epochs[1].Immune || !epochs[2].Extension || epochs[2].HeldOut != 99 {
		t.Fatalf("unexpected epochs %+v", epochs)
	}
	all, _ := store.ListEpochs(ctx, "r", -1)
	if len(all) != 6 || all[0].Task != 0 || all[5].Task != 1 {
		t.Fatalf("expected six epochs ordered by task, got %+v", all)
	}

	results := []domainOWM.TaskResult{
		{Task: 1, Phase: domainOWM.TaskFailed, Failed: true, Error: "numerical", Duration: time.Second},
		{Task: 0, Phase: domainOWM.TaskConverged, Accuracy: 97.5, EpochsRun: 6, ExtensionEpochs: 3},
	}
	for _, r := range results {
		if err := store.RecordTask(ctx, "r", r); err != nil {
			t.Fatalf("RecordTask: %v", err)
		}
	}
	got, err := store.TaskResults(ctx, "r")
	if err != nil {
		t.Fatalf("TaskResults: %v", err)
	}
	if len(got) != 2 || got[0].Task != 0 || got[0].ExtensionEpochs != 3 || got[0].Accuracy != 97.5 {
		t.Fatalf("unexpected task results %+v", got)
	}
	if !got[1].Failed || got[1].Error != "numerical" || got[1].Duration != time.Second || got[1].Phase != domainOWM.TaskFailed {
		t.Fatalf("unexpected failed task %+v", got[1])
	}

	if s := store.Stats(); s.Epochs != 7 || s.Tasks != 2 || s.Runs != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestSQLStore_CheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.CreateRun(ctx, &domainOWM.Run{ID: "r", Config: testConfig()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if _, err := store.LatestCheckpoint(ctx, "r"); !errors.Is(err, domainOWM.ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound, got %v", err)
	}

	layers := func(v float64) []domainOWM.LayerSnapshot {
		return []domainOWM.LayerSnapshot{
			{Weights: mat.NewDense(3, 4, nil), Projection: mat.NewDense(3, 3, []float64{v, 0, 0, 0, v, 0, 0, 0, v})},
			{Weights: mat.NewDense(4, 2, []float64{1, 2, 3, 4, 5, 6, 7, v}), Projection: mat.NewDense(4, 4, nil)},
		}
	}
	for task := 0; task < 3; task++ {
		cp := &domainOWM.Checkpoint{RunID: "r", Task: task, Layers: layers(float64(task) + 0.5)}
		if err := store.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}

	var rows, oldest int
	if err := store.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(task) FROM checkpoint_layers WHERE run_id = ?`, "r").Scan(&rows, &oldest); err != nil {
		t.Fatalf("count checkpoint rows: %v", err)
	}
	if rows != 2 || oldest != 2 {
		t.Fatalf("expected only task 2's 2 layers to be kept, got %d rows from task %d", rows, oldest)
	}

	// Saving a task twice replaces it.
	replaced := layers(9)
	replaced[1].Updates = 7
	if err := store.SaveCheckpoint(ctx, &domainOWM.Checkpoint{RunID: "r", Task: 2, Layers: replaced}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	cp, err := store.LatestCheckpoint(ctx, "r")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if cp.Task != 2 || len(cp.Layers) != 2 {
		t.Fatalf("unexpected checkpoint task=%d layers=%d", cp.Task, len(cp.Layers))
	}
	want := layers(9)
	for i := range want {
		if !mat.Equal(cp.Layers[i].Weights, want[i].Weights) || !mat.Equal(cp.Layers[i].Projection, want[i].Projection) {
			t.Fatalf("layer %d did not round trip", i)
		}
	}
	if cp.Layers[0].Updates != 0 || cp.Layers[1].Updates != 7 {
		t.Fatalf("update counts did not round trip: %d, %d", cp.Layers[0].Updates, cp.Layers[1].Updates)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"postgres://u@localhost/owm", true},
		{"postgresql://u@localhost/owm", true},
		{"host=localhost dbname=owm", true},
		{"runs.db", false},
		{":memory:", false},
	}
	for _, tt := range tests {
		if got := IsPostgresDSN(tt.dsn); got != tt.want {
			t.Errorf("IsPostgresDSN(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}

	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	if store.Backend() != "sqlite" {
		t.Fatalf("expected sqlite backend, got %s", store.Backend())
	}
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	s := &SQLStore{dialect: dialect{numbered: true}}
	got := s.rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("unexpected rebind %q", got)
	}
	s.dialect.numbered = false
	if got := s.rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite query must be unchanged, got %q", got)
	}
}

func TestAccuracyDumpRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := []float64{97.5, 0, 88.125}
	if err := WriteAccuracies(&buf, in); err != nil {
		t.Fatalf("WriteAccuracies: %v", err)
	}
	if buf.Len() != 24 {
		t.Fatalf("expected 24 bytes, got %d", buf.Len())
	}
	out, err := ReadAccuracies(&buf)
	if err != nil {
		t.Fatalf("ReadAccuracies: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("value %d: got %v want %v", i, out[i], in[i])
		}
	}

	if _, err := ReadAccuracies(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Fatal("expected error on truncated dump")
	}

	path := filepath.Join(t.TempDir(), "acc.bin")
	if err := DumpAccuracies(path, in); err != nil {
		t.Fatalf("DumpAccuracies: %v", err)
	}
}
