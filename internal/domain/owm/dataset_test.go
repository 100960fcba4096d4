package owm

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestOneHot(t *testing.T) {
	y := OneHot([]int{2, 0, 1}, 3)

	r, c := y.Dims()
	if r != 3 || c != 3 {
		t.Fatalf("expected 3x3, got %dx%d", r, c)
	}
	want := mat.NewDense(3, 3, []float64{
		0, 0, 1,
		1, 0, 0,
		0, 1, 0,
	})
	if !mat.Equal(y, want) {
		t.Fatalf("unexpected encoding:\n%v", mat.Formatted(y))
	}
}

func TestTaskDataValidate(t *testing.T) {
	data := &TaskData{
		X:      mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}),
		Labels: []int{0, 1},
	}

	if err := data.Validate(0, 3, 2); err != nil {
		t.Fatalf("valid data rejected: %v", err)
	}

	err := data.Validate(7, 4, 2)
	var shapeErr *DataShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected DataShapeError, got %v", err)
	}
	if shapeErr.Task != 7 || shapeErr.Want != 4 || shapeErr.Got != 3 {
		t.Fatalf("unexpected error fields: %+v", shapeErr)
	}
	if !errors.Is(err, ErrDataShape) || !IsRecoverable(err) {
		t.Fatal("shape errors should be recoverable ErrDataShape")
	}

	if err := data.Validate(0, 3, 1); !errors.Is(err, ErrDataShape) {
		t.Fatalf("out of range label should be rejected, got %v", err)
	}
}
