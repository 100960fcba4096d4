package dataset

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

// Split names a data partition.
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

// FileName returns the file holding one split of one task.
func FileName(split Split, task int) string {
	return fmt.Sprintf("%s_%d.bin", split, task)
}

// MatrixDir reads per-task splits stored as gonum binary matrices, one file
// per split and task. The last column of every row is the integer label.
type MatrixDir struct {
	dir        string
	featureDim int
	tasks      int

	mu    sync.Mutex
	sizes map[int]int
}

var _ domainOWM.TaskSource = (*MatrixDir)(nil)

// NewMatrixDir indexes dir. Training files must be numbered 0..n-1.
func NewMatrixDir(dir string, featureDim int) (*MatrixDir, error) {
	if featureDim <= 0 {
		return nil, fmt.Errorf("%w: feature dim must be > 0", domainOWM.ErrConfiguration)
	}
	matches, err := filepath.Glob(filepath.Join(dir, string(SplitTrain)+"_*.bin"))
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, m := range matches {
		base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), string(SplitTrain)+"_"), ".bin")
		id, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no %s files in %s", FileName(SplitTrain, 0), dir)
	}
	sort.Ints(ids)
	for i, id := range ids {
		if id != i {
			return nil, fmt.Errorf("missing %s in %s", FileName(SplitTrain, i), dir)
		}
	}

	return &MatrixDir{dir: dir, featureDim: featureDim, tasks: len(ids), sizes: make(map[int]int)}, nil
}

// NumTasks implements TaskSource.
func (d *MatrixDir) NumTasks() int {
	return d.tasks
}

// FeatureDim implements TaskSource.
func (d *MatrixDir) FeatureDim() int {
	return d.featureDim
}

// TrainSize implements TaskSource. The file is decoded once and its row
// count remembered.
func (d *MatrixDir) TrainSize(task int) (int, error) {
	d.mu.Lock()
	n, ok := d.sizes[task]
	d.mu.Unlock()
	if ok {
		return n, nil
	}
	data, err := d.Train(task)
	if err != nil {
		return 0, err
	}
	return data.Len(), nil
}

// Train implements TaskSource.
func (d *MatrixDir) Train(task int) (*domainOWM.TaskData, error) {
	data, err := d.load(SplitTrain, task)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.sizes[task] = data.Len()
	d.mu.Unlock()
	return data, nil
}

// Test implements TaskSource.
func (d *MatrixDir) Test(task int) (*domainOWM.TaskData, error) {
	return d.load(SplitTest, task)
}

func (d *MatrixDir) load(split Split, task int) (*domainOWM.TaskData, error) {
	if task < 0 || task >= d.tasks {
		return nil, fmt.Errorf("task %d out of range [0, %d)", task, d.tasks)
	}
	path := filepath.Join(d.dir, FileName(split, task))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var raw mat.Dense
	if _, err := raw.UnmarshalBinaryFrom(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return splitLabels(&raw, task, d.featureDim)
}

func splitLabels(raw *mat.Dense, task, featureDim int) (*domainOWM.TaskData, error) {
	rows, cols := raw.Dims()
	if cols != featureDim+1 {
		return nil, &domainOWM.DataShapeError{Task: task, Field: "feature width", Want: featureDim, Got: cols - 1}
	}

	labels := make([]int, rows)
	for i := 0; i < rows; i++ {
		v := raw.At(i, featureDim)
		if v < 0 || v != math.Trunc(v) {
			return nil, &domainOWM.DataShapeError{Task: task, Field: "label", Want: 0, Got: int(v)}
		}
		labels[i] = int(v)
	}

	x := mat.DenseCopyOf(raw.Slice(0, rows, 0, featureDim))
	return &domainOWM.TaskData{X: x, Labels: labels}, nil
}

// WriteTask stores one split of a task in dir, appending labels as the last column.
func WriteTask(dir string, split Split, task int, data *domainOWM.TaskData) error {
	if data.Len() == 0 {
		return fmt.Errorf("task %d: empty %s split cannot be stored", task, split)
	}
	rows, cols := data.X.Dims()
	if rows != len(data.Labels) {
		return &domainOWM.DataShapeError{Task: task, Field: "label count", Want: rows, Got: len(data.Labels)}
	}
	raw := mat.NewDense(rows, cols+1, nil)
	raw.Slice(0, rows, 0, cols).(*mat.Dense).Copy(data.X)
	for i, label := range data.Labels {
		raw.Set(i, cols, float64(label))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(split, task))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if _, err := raw.MarshalBinaryTo(w); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Export writes every split of src into dir.
func Export(src domainOWM.TaskSource, dir string) error {
	for task := 0; task < src.NumTasks(); task++ {
		for _, split := range []Split{SplitTrain, SplitTest} {
			var (
				data *domainOWM.TaskData
				err  error
			)
			if split == SplitTrain {
				data, err = src.Train(task)
			} else {
				data, err = src.Test(task)
			}
			if err != nil {
				return err
			}
			if err := WriteTask(dir, split, task, data); err != nil {
				return err
			}
		}
	}
	return nil
}
