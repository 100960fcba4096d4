package owm

import (
	"context"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Scorer produces class scores for a batch of rows without mutating state.
type Scorer interface {
	Scores(x mat.Matrix) *mat.Dense
}

// Batch is one slice of rows with its one-hot targets.
type Batch struct {
	X mat.Matrix
	Y mat.Matrix
}

// Evaluate counts rows whose arg-max score matches the arg-max of the one-hot
// label row. Empty or nil batches score 0.
func Evaluate(s Scorer, x, y mat.Matrix) int {
	if x == nil || y == nil {
		return 0
	}
	if rows, _ := x.Dims(); rows == 0 {
		return 0
	}
	return Hits(s.Scores(x), y)
}

// Hits compares arg-max predictions with one-hot labels row by row.
func Hits(scores, y mat.Matrix) int {
	rows, _ := scores.Dims()
	yr, _ := y.Dims()
	if yr < rows {
		rows = yr
	}
	hits := 0
	for i := 0; i < rows; i++ {
		if argmaxRow(scores, i) == argmaxRow(y, i) {
			hits++
		}
	}
	return hits
}

// argmaxRow returns the first column holding the row maximum.
func argmaxRow(m mat.Matrix, i int) int {
	_, c := m.Dims()
	best := 0
	for j := 1; j < c; j++ {
		if m.At(i, j) > m.At(i, best) {
			best = j
		}
	}
	return best
}

// EvaluateParallel scores batches concurrently with at most workers
// goroutines and returns the total hits and rows. Weights are only read.
func EvaluateParallel(ctx context.Context, s Scorer, batches []Batch, workers int) (int, int, error) {
	if workers < 1 {
		workers = 1
	}

	hits := make([]int, len(batches))
	rows := make([]int, len(batches))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range batches {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := batches[i]
			if b.X != nil {
				rows[i], _ = b.X.Dims()
			}
			hits[i] = Evaluate(s, b.X, b.Y)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	var totalHits, totalRows int
	for i := range batches {
		totalHits += hits[i]
		totalRows += rows[i]
	}
	return totalHits, totalRows, nil
}

// SplitBatches cuts x and y into consecutive batches of at most size rows.
func SplitBatches(x, y *mat.Dense, size int) []Batch {
	if x == nil || x.IsEmpty() {
		return nil
	}
	if size < 1 {
		size = 1
	}
	rows, cols := x.Dims()
	_, classes := y.Dims()
	out := make([]Batch, 0, (rows+size-1)/size)
	for start := 0; start < rows; start += size {
		end := start + size
		if end > rows {
			end = rows
		}
		out = append(out, Batch{
			X: x.Slice(start, end, 0, cols),
			Y: y.Slice(start, end, 0, classes),
		})
	}
	return out
}
