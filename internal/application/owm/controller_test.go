package owm

import (
	"context"
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
	"github.com/owm-go/owm/internal/infrastructure/dataset"
	infraOWM "github.com/owm-go/owm/internal/infrastructure/owm"
)

func testConfig(classes, dim int) domainOWM.Config {
	cfg := domainOWM.DefaultConfig()
	cfg.ClassNum = classes
	cfg.NumEpochs = 8
	cfg.ImmuneDistance = 1
	cfg.IterThreshold = 10
	cfg.AddEpochs = 2
	cfg.EvalBatchSize = 16
	cfg.EvalWorkers = 2
	cfg.Seed = 5
	cfg.Layers = []domainOWM.LayerConfig{
		{InputDim: dim, OutputDim: 12, Alpha: 100},
		{InputDim: 12, OutputDim: classes, Alpha: 100},
	}
	return cfg
}

func testSource(t *testing.T, tasks, dim, train, test int) *dataset.Synthetic {
	t.Helper()
	src, err := dataset.NewSynthetic(dataset.SyntheticConfig{
		Tasks: tasks, FeatureDim: dim, TrainPerTask: train, TestPerTask: test,
		Separation: 3, Spread: 0.5, Seed: 3,
	})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	return src
}

func newSession(t *testing.T, cfg domainOWM.Config, src domainOWM.TaskSource, task int) (*infraOWM.Network, *TaskSession) {
	t.Helper()
	network, err := infraOWM.NewNetwork(cfg)
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	train, _ := src.Train(task)
	test, _ := src.Test(task)
	session, err := NewTaskController(network, cfg).NewSession(task, train, test)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return network, session
}

func TestBatchPlan(t *testing.T) {
	cfg := testConfig(2, 4)
	tests := []struct {
		n, size, count int
	}{
		{1000, 100, 10},
		{5, 1, 5},
		{19, 1, 19},
		{25, 2, 12},
		{38, 3, 13},
		{105, 10, 10},
	}
	for _, tt := range tests {
		size, count, err := BatchPlan(cfg, tt.n)
		if err != nil {
			t.Fatalf("BatchPlan(%d): %v", tt.n, err)
		}
		if size != tt.size || count != tt.count {
			t.Errorf("BatchPlan(%d) = %d, %d, want %d, %d", tt.n, size, count, tt.size, tt.count)
		}
	}
	if _, _, err := BatchPlan(cfg, 0); !errors.Is(err, domainOWM.ErrInvalidBatchSize) {
		t.Fatalf("expected ErrInvalidBatchSize, got %v", err)
	}
}

func TestTaskSession_TrainEpochVisitsPlannedSamples(t *testing.T) {
	tests := []struct {
		n, batches, samples int
	}{
		{38, 13, 38},
		{25, 12, 24},
		{40, 10, 40},
	}
	for _, tt := range tests {
		cfg := testConfig(2, 4)
		_, session := newSession(t, cfg, testSource(t, 2, 4, tt.n, 5), 1)

		stats, err := session.TrainEpoch(context.Background(), 0, false, false)
		if err != nil {
			t.Fatalf("TrainEpoch(n=%d): %v", tt.n, err)
		}
		if stats.Batches != tt.batches || stats.Samples != tt.samples {
			t.Errorf("n=%d: got %d batches / %d samples, want %d / %d", tt.n, stats.Batches, stats.Samples, tt.batches, tt.samples)
		}
		if stats.Task != 1 || stats.Hits > stats.Samples || stats.Accuracy < 0 || stats.Accuracy > 100 {
			t.Errorf("n=%d: unexpected stats %+v", tt.n, stats)
		}
	}
}

func TestTaskSession_HitsCountedAfterUpdate(t *testing.T) {
	cfg := testConfig(2, 4)
	cfg.BatchDivisor = 1
	src := testSource(t, 2, 4, 20, 5)
	network, session := newSession(t, cfg, src, 1)
	if session.Batches() != 1 {
		t.Fatalf("expected a single batch, got %d", session.Batches())
	}

	stats, err := session.TrainEpoch(context.Background(), 1, false, false)
	if err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}

	train, _ := src.Train(1)
	want := infraOWM.Evaluate(network, train.X, domainOWM.OneHot(train.Labels, cfg.ClassNum))
	if stats.Hits != want {
		t.Errorf("expected %d hits from the updated weights, got %d", want, stats.Hits)
	}
	if stats.Accuracy != float64(want)/20*100 {
		t.Errorf("unexpected accuracy %v", stats.Accuracy)
	}
}

func TestTaskSession_ImmuneEpochOnlyMovesProjections(t *testing.T) {
	cfg := testConfig(2, 4)
	network, session := newSession(t, cfg, testSource(t, 2, 4, 20, 5), 0)
	before := network.Snapshot()

	if _, err := session.TrainEpoch(context.Background(), 0, true, false); err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}
	after := network.Snapshot()
	for i := range before {
		if !mat.Equal(before[i].Weights, after[i].Weights) {
			t.Fatalf("layer %d weights changed during immune epoch", i)
		}
		if mat.Equal(before[i].Projection, after[i].Projection) {
			t.Fatalf("layer %d projection did not move during immune epoch", i)
		}
	}
}

func TestTaskSession_SameSeedSameTrajectory(t *testing.T) {
	cfg := testConfig(3, 5)
	src := testSource(t, 3, 5, 30, 10)

	run := func() []domainOWM.LayerSnapshot {
		network, session := newSession(t, cfg, src, 2)
		for epoch := 0; epoch < 3; epoch++ {
			if _, err := session.TrainEpoch(context.Background(), epoch, epoch == 0, false); err != nil {
				t.Fatalf("TrainEpoch: %v", err)
			}
		}
		return network.Snapshot()
	}

	a, b := run(), run()
	for i := range a {
		if !mat.Equal(a[i].Weights, b[i].Weights) || !mat.Equal(a[i].Projection, b[i].Projection) {
			t.Fatalf("layer %d diverged between identical runs", i)
		}
	}
}

func TestTaskSession_HeldOutLearnsTask(t *testing.T) {
	cfg := testConfig(2, 6)
	_, session := newSession(t, cfg, testSource(t, 2, 6, 40, 10), 0)

	for epoch := 0; epoch < 5; epoch++ {
		if _, err := session.TrainEpoch(context.Background(), epoch, epoch < cfg.ImmuneDistance, false); err != nil {
			t.Fatalf("TrainEpoch: %v", err)
		}
	}
	acc, err := session.HeldOut(context.Background())
	if err != nil {
		t.Fatalf("HeldOut: %v", err)
	}
	if acc != 100 {
		t.Fatalf("expected a single-class task to be fully learned, got %.2f", acc)
	}
}

func TestTaskController_NewSessionRejectsBadData(t *testing.T) {
	cfg := testConfig(2, 4)
	network, err := infraOWM.NewNetwork(cfg)
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	controller := NewTaskController(network, cfg)

	wide := &domainOWM.TaskData{X: mat.NewDense(3, 5, nil), Labels: []int{0, 0, 0}}
	_, err = controller.NewSession(0, wide, nil)
	var shapeErr *domainOWM.DataShapeError
	if !errors.As(err, &shapeErr) || shapeErr.Want != 4 || shapeErr.Got != 5 {
		t.Fatalf("expected DataShapeError, got %v", err)
	}

	ok := &domainOWM.TaskData{X: mat.NewDense(3, 4, nil), Labels: []int{0, 0, 0}}
	badTest := &domainOWM.TaskData{X: mat.NewDense(1, 3, nil), Labels: []int{0}}
	if _, err := controller.NewSession(0, ok, badTest); !errors.Is(err, domainOWM.ErrDataShape) {
		t.Fatalf("expected ErrDataShape for test split, got %v", err)
	}

	session, err := controller.NewSession(0, ok, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if acc, _ := session.HeldOut(context.Background()); acc != 0 {
		t.Fatalf("expected 0 held-out accuracy without test data, got %v", acc)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := session.TrainEpoch(ctx, 0, false, false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
