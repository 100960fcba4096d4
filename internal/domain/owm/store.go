package owm

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"
)

// RunStatus is the lifecycle state of a training run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persisted record of one continual-learning run.
type Run struct {
	ID            string     `json:"id"`
	Config        Config     `json:"config"`
	Status        RunStatus  `json:"status"`
	FinalAccuracy float64    `json:"finalAccuracy"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// LayerSnapshot is a copy of one layer's weights and projection.
// Updates counts the activations absorbed into Projection.
type LayerSnapshot struct {
	Weights    *mat.Dense
	Projection *mat.Dense
	Updates    int64
}

// Checkpoint captures the network after a task so training can resume with
// the same learned subspace.
type Checkpoint struct {
	RunID     string
	Task      int
	Layers    []LayerSnapshot
	CreatedAt time.Time
}

// RunStore persists runs, their per-epoch trace, the ledger and checkpoints.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, runID string, status RunStatus, finalAccuracy float64) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	RecordEpoch(ctx context.Context, runID string, stats EpochStats) error
	ListEpochs(ctx context.Context, runID string, task int) ([]EpochStats, error)

	RecordTask(ctx context.Context, runID string, result TaskResult) error
	TaskResults(ctx context.Context, runID string) ([]TaskResult, error)

	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error)

	Close() error
}
