package owm

import (
	"errors"
	"fmt"
)

// Configuration errors. All of them wrap ErrConfiguration and are reported
// before any training starts.
var (
	ErrConfiguration        = errors.New("invalid configuration")
	ErrInvalidAlpha         = fmt.Errorf("%w: alpha must be positive", ErrConfiguration)
	ErrInvalidBatchSize     = fmt.Errorf("%w: batch size must be at least 1", ErrConfiguration)
	ErrInvalidEpochs        = fmt.Errorf("%w: epoch settings out of range", ErrConfiguration)
	ErrUnreachableExtension = fmt.Errorf("%w: extension epochs can never run", ErrConfiguration)
	ErrUnsupportedDevice    = fmt.Errorf("%w: unsupported device", ErrConfiguration)
	ErrLayerShape           = fmt.Errorf("%w: layer dimensions do not chain", ErrConfiguration)
)

var (
	// ErrNumericalInstability is returned when a projection update diverges.
	ErrNumericalInstability = errors.New("numerical instability")

	// ErrDataShape is returned when task data does not match the configured shape.
	ErrDataShape = errors.New("data shape mismatch")

	// ErrLedgerOrder is returned when a task result is appended out of order.
	ErrLedgerOrder = errors.New("ledger entries must be appended in task order")

	// ErrRunNotFound is returned by run stores for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")

	// ErrCheckpointNotFound is returned when a run has no stored checkpoint.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// NumericalError describes a diverged projection or weight update.
type NumericalError struct {
	Layer  int
	Task   int
	Reason string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("layer %d, task %d: %s: %s", e.Layer, e.Task, ErrNumericalInstability, e.Reason)
}

func (e *NumericalError) Unwrap() error {
	return ErrNumericalInstability
}

// DataShapeError describes task data whose width differs from the declared
// feature dimension.
type DataShapeError struct {
	Task  int
	Field string
	Want  int
	Got   int
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("task %d: %s: %s want %d, got %d", e.Task, ErrDataShape, e.Field, e.Want, e.Got)
}

func (e *DataShapeError) Unwrap() error {
	return ErrDataShape
}

// IsRecoverable reports whether a task-level failure should be logged and
// skipped rather than aborting the whole run.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrNumericalInstability) || errors.Is(err, ErrDataShape)
}
