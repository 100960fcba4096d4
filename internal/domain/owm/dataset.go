package owm

import (
	"gonum.org/v1/gonum/mat"
)

// TaskData holds the feature rows and integer labels of one task split.
type TaskData struct {
	X      *mat.Dense
	Labels []int
}

// Len returns the number of samples.
func (d *TaskData) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Labels)
}

// Width returns the feature width.
func (d *TaskData) Width() int {
	if d == nil || d.X == nil {
		return 0
	}
	_, c := d.X.Dims()
	return c
}

// Validate checks the split against the declared feature width and class count.
func (d *TaskData) Validate(task, featureDim, classNum int) error {
	if d == nil || d.X == nil {
		return &DataShapeError{Task: task, Field: "rows", Want: 1, Got: 0}
	}
	r, c := d.X.Dims()
	if c != featureDim {
		return &DataShapeError{Task: task, Field: "feature width", Want: featureDim, Got: c}
	}
	if r != len(d.Labels) {
		return &DataShapeError{Task: task, Field: "label count", Want: r, Got: len(d.Labels)}
	}
	for _, label := range d.Labels {
		if label < 0 || label >= classNum {
			return &DataShapeError{Task: task, Field: "label", Want: classNum - 1, Got: label}
		}
	}
	return nil
}

// TaskSource supplies per-task training and held-out data. Loading and
// storage format are the source's concern.
type TaskSource interface {
	// NumTasks returns how many tasks the source can supply.
	NumTasks() int

	// FeatureDim returns the declared feature width.
	FeatureDim() int

	// TrainSize returns the number of training samples of a task without
	// requiring the caller to hold the data.
	TrainSize(task int) (int, error)

	// Train returns the training split of a task.
	Train(task int) (*TaskData, error)

	// Test returns the held-out split of a task.
	Test(task int) (*TaskData, error)
}

// OneHot encodes labels as rows of a (len(labels) x classes) matrix.
func OneHot(labels []int, classes int) *mat.Dense {
	if len(labels) == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(len(labels), classes, nil)
	for i, label := range labels {
		if label >= 0 && label < classes {
			out.Set(i, label, 1)
		}
	}
	return out
}
