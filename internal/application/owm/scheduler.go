package owm

import (
	"context"
	"math"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
	"github.com/owm-go/owm/internal/infrastructure/events"
)

// convergenceEpsilon guards the relative improvement against a zero baseline.
const convergenceEpsilon = 1e-8

// EpochTrainer runs one epoch of the current task.
type EpochTrainer interface {
	TrainEpoch(ctx context.Context, epoch int, immune, extension bool) (domainOWM.EpochStats, error)
}

// HeldOutEvaluator scores the current task's held-out split as a percentage.
type HeldOutEvaluator interface {
	HeldOut(ctx context.Context) (float64, error)
}

// EpochRecorder persists epoch summaries. RunStore implementations satisfy it.
type EpochRecorder interface {
	RecordEpoch(ctx context.Context, runID string, stats domainOWM.EpochStats) error
}

// RelativeImprovement returns (newAcc-oldAcc)/(oldAcc+1e-8)*100.
func RelativeImprovement(oldAcc, newAcc float64) float64 {
	return (newAcc - oldAcc) / (oldAcc + convergenceEpsilon) * 100
}

// ShouldConverge reports whether a task has plateaued or saturated: the
// relative improvement is within [0, 1] percent or the accuracy rounds to
// 100, and in either case the accuracy is above 50.
func ShouldConverge(oldAcc, newAcc float64) bool {
	delta := RelativeImprovement(oldAcc, newAcc)
	plateau := delta >= 0 && delta <= 1
	saturated := math.Round(newAcc) == 100
	return (plateau || saturated) && newAcc > 50
}

// Scheduler drives a task through RUNNING to CONVERGED or EXHAUSTED and
// grants at most one block of extension epochs.
type Scheduler struct {
	config   domainOWM.Config
	bus      *events.EventBus
	recorder EpochRecorder
	runID    string
	tasks    int
}

// NewScheduler creates a scheduler. bus and recorder may be nil.
func NewScheduler(config domainOWM.Config, runID string, tasks int, bus *events.EventBus, recorder EpochRecorder) *Scheduler {
	return &Scheduler{config: config, bus: bus, recorder: recorder, runID: runID, tasks: tasks}
}

// RunTask trains task until it converges or the epoch cap is reached, then
// runs the extension block when the last regular epoch (1-based) is within
// IterThreshold. The returned state's Last field is the accuracy to record.
func (s *Scheduler) RunTask(ctx context.Context, task int, trainer EpochTrainer, eval HeldOutEvaluator) (*domainOWM.TaskState, error) {
	state := domainOWM.NewTaskState(task)

	for !state.Phase.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		epoch := state.EpochsRun
		immune := epoch < s.config.ImmuneDistance
		acc, err := s.epoch(ctx, state, trainer, eval, epoch, immune, false)
		if err != nil {
			return state, err
		}
		state.EpochsRun++

		if ShouldConverge(state.AccuOld, acc) {
			state.Phase = domainOWM.TaskConverged
			s.bus.EmitTaskConverged(s.runID, task, epoch, acc)
			continue
		}
		state.AccuOld = acc
		if state.EpochsRun >= s.config.NumEpochs {
			state.Phase = domainOWM.TaskExhausted
		}
	}

	if s.extensionDue(state) {
		s.bus.EmitTaskExtended(s.runID, task, state.EpochsRun, s.config.AddEpochs)
		for i := 0; i < s.config.AddEpochs; i++ {
			if err := ctx.Err(); err != nil {
				return state, err
			}
			if _, err := s.epoch(ctx, state, trainer, eval, state.TotalEpochs(), false, true); err != nil {
				return state, err
			}
			state.ExtensionEpochs++
		}
	}

	s.bus.EmitTaskCompleted(s.runID, task, s.tasks, state.TotalEpochs()-1, s.config.NumEpochs, state.Last, string(state.Phase))
	return state, nil
}

func (s *Scheduler) extensionDue(state *domainOWM.TaskState) bool {
	return s.config.AddEpochs > 0 &&
		state.ExtensionEpochs == 0 &&
		state.EpochsRun <= s.config.IterThreshold
}

// epoch trains once, scores the held-out split and publishes the result.
func (s *Scheduler) epoch(ctx context.Context, state *domainOWM.TaskState, trainer EpochTrainer, eval HeldOutEvaluator, epoch int, immune, extension bool) (float64, error) {
	stats, err := trainer.TrainEpoch(ctx, epoch, immune, extension)
	if err != nil {
		return 0, err
	}
	stats.Task, stats.Epoch, stats.Immune, stats.Extension = state.Task, epoch, immune, extension

	acc, err := eval.HeldOut(ctx)
	if err != nil {
		return 0, err
	}
	stats.HeldOut = acc
	state.Last = acc

	if s.recorder != nil {
		if err := s.recorder.RecordEpoch(ctx, s.runID, stats); err != nil {
			return 0, err
		}
	}
	s.bus.EmitEpochCompleted(s.runID, epoch, s.config.NumEpochs, state.Task, s.tasks, stats.Accuracy, immune, extension)
	return acc, nil
}
