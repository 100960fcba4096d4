package logging

import (
	"fmt"

	"github.com/owm-go/owm/internal/infrastructure/events"
	"github.com/owm-go/owm/internal/shared"
)

// Progress line formats.
const (
	EpochLineFormat   = "[Train]|Task [%d/%d]: Epoch [%d/%d], Accuracy: %.3f"
	TaskLineFormat    = "Mat_number:[%d/%d], Epoch_number:[%d/%d],curr_acc:%.2f %%"
	OverallLineFormat = "All_acc:%.2f %%"
	TimeLineFormat    = "Time %s"
)

// EpochLine renders the per-epoch training line. Task and epoch are 0-based.
func EpochLine(task, tasks, epoch, numEpochs int, accuracy float64) string {
	return fmt.Sprintf(EpochLineFormat, task+1, tasks, epoch+1, numEpochs, accuracy)
}

// TaskLine renders the held-out accuracy line written when a task finishes.
func TaskLine(task, tasks, epoch, numEpochs int, accuracy float64) string {
	return fmt.Sprintf(TaskLineFormat, task+1, tasks, epoch+1, numEpochs, accuracy)
}

// OverallLine renders the final all-task accuracy line.
func OverallLine(accuracy float64) string {
	return fmt.Sprintf(OverallLineFormat, accuracy)
}

// TimeLine renders the elapsed-time line.
func TimeLine(elapsed string) string {
	return fmt.Sprintf(TimeLineFormat, elapsed)
}

// Bridge registers handlers on bus that turn training events into log lines.
func Bridge(bus *events.EventBus, lm *LogManager) {
	if bus == nil || lm == nil {
		return
	}

	bus.On(shared.EventRunStarted, func(e shared.Event) {
		lm.Debug(fmt.Sprintf("run %s started with %d tasks", e.RunID, e.Int("tasks")), e.Payload)
	})
	bus.On(shared.EventEpochCompleted, func(e shared.Event) {
		lm.Info(EpochLine(e.Int("task"), e.Int("tasks"), e.Int("epoch"), e.Int("numEpochs"), e.Float("accuracy")), nil)
	})
	bus.On(shared.EventTaskConverged, func(e shared.Event) {
		lm.Debug(fmt.Sprintf("task %d converged at epoch %d (%.2f %%)", e.Int("task"), e.Int("epoch"), e.Float("accuracy")), nil)
	})
	bus.On(shared.EventTaskExtended, func(e shared.Event) {
		lm.Debug(fmt.Sprintf("task %d extended by %d epochs from epoch %d", e.Int("task"), e.Int("epochs"), e.Int("fromEpoch")), nil)
	})
	bus.On(shared.EventTaskCompleted, func(e shared.Event) {
		lm.Info(TaskLine(e.Int("task"), e.Int("tasks"), e.Int("epoch"), e.Int("numEpochs"), e.Float("accuracy")), nil)
	})
	bus.On(shared.EventTaskFailed, func(e shared.Event) {
		lm.Error(fmt.Sprintf("task %d failed: %s", e.Int("task"), e.String("error")), nil)
	})
	bus.On(shared.EventRunCompleted, func(e shared.Event) {
		lm.Info(OverallLine(e.Float("accuracy")), nil)
		lm.Info(TimeLine(e.String("elapsed")), nil)
	})
}
