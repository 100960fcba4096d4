// Package owm provides the continual-learning application services: the
// per-task training controller, the convergence scheduler and the run service.
package owm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
	infraOWM "github.com/owm-go/owm/internal/infrastructure/owm"
)

// TaskController trains the network one epoch at a time on a single task.
type TaskController struct {
	network *infraOWM.Network
	config  domainOWM.Config
}

// NewTaskController creates a controller over network.
func NewTaskController(network *infraOWM.Network, config domainOWM.Config) *TaskController {
	return &TaskController{network: network, config: config}
}

// TaskSession binds a controller to one task's data. It implements both
// EpochTrainer and HeldOutEvaluator.
type TaskSession struct {
	controller *TaskController
	task       int

	train  *domainOWM.TaskData
	trainY *mat.Dense
	test   []infraOWM.Batch

	batchSize int
	batches   int
	rng       *rand.Rand
}

// TaskSeed derives the shuffle seed of a task so that a resumed run
// reshuffles exactly like an uninterrupted one.
func TaskSeed(seed int64, task int) int64 {
	return seed*1_000_003 + int64(task)
}

// BatchPlan returns the training batch size and the number of batches per
// epoch for n samples. The count is n/size rounded half to even, so the last
// short batch is visited when the remainder rounds up.
func BatchPlan(config domainOWM.Config, n int) (int, int, error) {
	size, err := config.BatchSize(n)
	if err != nil {
		return 0, 0, err
	}
	count := int(math.RoundToEven(float64(n) / float64(size)))
	if count < 1 {
		count = 1
	}
	return size, count, nil
}

// NewSession validates the task data and prepares one-hot targets and the
// held-out batches.
func (c *TaskController) NewSession(task int, train, test *domainOWM.TaskData) (*TaskSession, error) {
	dim := c.config.FeatureDim()
	if err := train.Validate(task, dim, c.config.ClassNum); err != nil {
		return nil, err
	}
	if test != nil && test.Len() > 0 {
		if err := test.Validate(task, dim, c.config.ClassNum); err != nil {
			return nil, err
		}
	}

	size, count, err := BatchPlan(c.config, train.Len())
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", task, err)
	}

	s := &TaskSession{
		controller: c,
		task:       task,
		train:      train,
		trainY:     domainOWM.OneHot(train.Labels, c.config.ClassNum),
		batchSize:  size,
		batches:    count,
		rng:        rand.New(rand.NewSource(TaskSeed(c.config.Seed, task))),
	}
	if test != nil && test.Len() > 0 {
		s.test = infraOWM.SplitBatches(test.X, domainOWM.OneHot(test.Labels, c.config.ClassNum), c.config.EvalBatchSize)
	}
	return s, nil
}

// BatchSize returns the training batch size.
func (s *TaskSession) BatchSize() int {
	return s.batchSize
}

// Batches returns the number of batches per epoch.
func (s *TaskSession) Batches() int {
	return s.batches
}

// TrainEpoch reshuffles the task and runs one protected update per batch.
// The reported accuracy counts predictions made after each batch's update.
func (s *TaskSession) TrainEpoch(ctx context.Context, epoch int, immune, extension bool) (domainOWM.EpochStats, error) {
	stats := domainOWM.EpochStats{Task: s.task, Epoch: epoch, Immune: immune, Extension: extension}

	network := s.controller.network
	n := s.train.Len()
	dim := s.train.Width()
	classes := s.controller.config.ClassNum
	perm := s.rng.Perm(n)

	for i := 0; i < s.batches; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		start := i * s.batchSize
		if start >= n {
			break
		}
		end := start + s.batchSize
		if end > n {
			end = n
		}

		idx := perm[start:end]
		x := mat.NewDense(len(idx), dim, nil)
		y := mat.NewDense(len(idx), classes, nil)
		for r, j := range idx {
			x.SetRow(r, s.train.X.RawRowView(j))
			y.SetRow(r, s.trainY.RawRowView(j))
		}

		lamda := float64(i) / float64(s.batches)
		rates := infraOWM.RatesAt(s.controller.config.Schedule, lamda, network.NumLayers())

		if err := network.Learn(x, y, rates, immune); err != nil {
			var numErr *domainOWM.NumericalError
			if errors.As(err, &numErr) {
				numErr.Task = s.task
			}
			return stats, err
		}
		stats.Hits += infraOWM.Evaluate(network, x, y)
		stats.Batches++
		stats.Samples += len(idx)
	}

	if stats.Samples > 0 {
		stats.Accuracy = float64(stats.Hits) / float64(stats.Samples) * 100
	}
	return stats, nil
}

// HeldOut returns the percentage of the task's held-out rows classified
// correctly. A task without held-out data scores 0.
func (s *TaskSession) HeldOut(ctx context.Context) (float64, error) {
	hits, rows := 0, 0
	for _, b := range s.test {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		r, _ := b.X.Dims()
		rows += r
		hits += infraOWM.Evaluate(s.controller.network, b.X, b.Y)
	}
	if rows == 0 {
		return 0, nil
	}
	return float64(hits) / float64(rows) * 100, nil
}
