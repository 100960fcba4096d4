package owm

import "time"

// TaskPhase is the lifecycle state of one task's training loop.
type TaskPhase string

const (
	// TaskRunning means regular epochs are still being scheduled.
	TaskRunning TaskPhase = "running"
	// TaskConverged means held-out accuracy plateaued or saturated.
	TaskConverged TaskPhase = "converged"
	// TaskExhausted means the epoch cap was reached without converging.
	TaskExhausted TaskPhase = "exhausted"
	// TaskFailed means a recoverable fault aborted the task.
	TaskFailed TaskPhase = "failed"
)

// IsTerminal reports whether no more regular epochs follow.
func (p TaskPhase) IsTerminal() bool {
	return p != TaskRunning
}

// TaskState tracks the convergence bookkeeping of the task being trained.
// It lives for one task and is discarded once the result is recorded.
type TaskState struct {
	Task int `json:"task"`

	Phase TaskPhase `json:"phase"`

	// AccuOld is the held-out accuracy carried forward from the previous epoch.
	AccuOld float64 `json:"accuOld"`

	// Last is the most recent held-out accuracy.
	Last float64 `json:"last"`

	// EpochsRun counts regular epochs, monotonically.
	EpochsRun int `json:"epochsRun"`

	// ExtensionEpochs counts extension epochs; at most one block runs per task.
	ExtensionEpochs int `json:"extensionEpochs"`
}

// NewTaskState returns the initial RUNNING state of a task.
func NewTaskState(task int) *TaskState {
	return &TaskState{Task: task, Phase: TaskRunning}
}

// TotalEpochs is regular plus extension epochs.
func (s *TaskState) TotalEpochs() int {
	return s.EpochsRun + s.ExtensionEpochs
}

// EpochStats summarizes one training epoch of a task.
type EpochStats struct {
	Task      int     `json:"task"`
	Epoch     int     `json:"epoch"`
	Immune    bool    `json:"immune"`
	Extension bool    `json:"extension"`
	Batches   int     `json:"batches"`
	Samples   int     `json:"samples"`
	Hits      int     `json:"hits"`
	Accuracy  float64 `json:"accuracy"`
	HeldOut   float64 `json:"heldOut"`
}

// TaskResult is the final outcome of one task.
type TaskResult struct {
	Task            int           `json:"task"`
	Phase           TaskPhase     `json:"phase"`
	Accuracy        float64       `json:"accuracy"`
	EpochsRun       int           `json:"epochsRun"`
	ExtensionEpochs int           `json:"extensionEpochs"`
	Failed          bool          `json:"failed"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Result freezes a task state into its outcome.
func (s *TaskState) Result() TaskResult {
	return TaskResult{
		Task:            s.Task,
		Phase:           s.Phase,
		Accuracy:        s.Last,
		EpochsRun:       s.EpochsRun,
		ExtensionEpochs: s.ExtensionEpochs,
		Failed:          s.Phase == TaskFailed,
	}
}
