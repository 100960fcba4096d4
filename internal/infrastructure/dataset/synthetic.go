// Package dataset provides task sources: seeded synthetic clusters and
// per-task binary matrix files.
package dataset

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

// SyntheticConfig configures the synthetic source.
type SyntheticConfig struct {
	// Tasks is the number of tasks; task i holds class i only.
	Tasks int `json:"tasks" mapstructure:"tasks"`

	// FeatureDim is the width of every sample.
	FeatureDim int `json:"featureDim" mapstructure:"feature-dim"`

	TrainPerTask int `json:"trainPerTask" mapstructure:"train-per-task"`
	TestPerTask  int `json:"testPerTask" mapstructure:"test-per-task"`

	// Separation scales the class centres; Spread is the per-feature noise.
	Separation float64 `json:"separation" mapstructure:"separation"`
	Spread     float64 `json:"spread" mapstructure:"spread"`

	Seed int64 `json:"seed" mapstructure:"seed"`
}

// DefaultSyntheticConfig returns a small, well separated problem.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Tasks:        10,
		FeatureDim:   32,
		TrainPerTask: 200,
		TestPerTask:  50,
		Separation:   3.0,
		Spread:       1.0,
		Seed:         7,
	}
}

// Synthetic draws Gaussian clusters around fixed class centres. Every call
// for the same task and split returns identical data.
type Synthetic struct {
	config  SyntheticConfig
	centers *mat.Dense
}

var _ domainOWM.TaskSource = (*Synthetic)(nil)

// NewSynthetic builds the class centres.
func NewSynthetic(config SyntheticConfig) (*Synthetic, error) {
	if config.Tasks <= 0 || config.FeatureDim <= 0 {
		return nil, fmt.Errorf("%w: synthetic source needs tasks and feature dim > 0", domainOWM.ErrConfiguration)
	}
	if config.TrainPerTask < 0 || config.TestPerTask < 0 {
		return nil, fmt.Errorf("%w: negative sample count", domainOWM.ErrConfiguration)
	}
	if config.Spread < 0 {
		return nil, fmt.Errorf("%w: negative spread", domainOWM.ErrConfiguration)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	centers := mat.NewDense(config.Tasks, config.FeatureDim, nil)
	for i := 0; i < config.Tasks; i++ {
		for j := 0; j < config.FeatureDim; j++ {
			centers.Set(i, j, rng.NormFloat64()*config.Separation)
		}
	}
	return &Synthetic{config: config, centers: centers}, nil
}

// Config returns the source configuration.
func (s *Synthetic) Config() SyntheticConfig {
	return s.config
}

// NumTasks implements TaskSource.
func (s *Synthetic) NumTasks() int {
	return s.config.Tasks
}

// FeatureDim implements TaskSource.
func (s *Synthetic) FeatureDim() int {
	return s.config.FeatureDim
}

// TrainSize implements TaskSource.
func (s *Synthetic) TrainSize(task int) (int, error) {
	if err := s.check(task); err != nil {
		return 0, err
	}
	return s.config.TrainPerTask, nil
}

// Train implements TaskSource.
func (s *Synthetic) Train(task int) (*domainOWM.TaskData, error) {
	if err := s.check(task); err != nil {
		return nil, err
	}
	return s.sample(task, s.config.TrainPerTask, 0), nil
}

// Test implements TaskSource.
func (s *Synthetic) Test(task int) (*domainOWM.TaskData, error) {
	if err := s.check(task); err != nil {
		return nil, err
	}
	return s.sample(task, s.config.TestPerTask, 1), nil
}

func (s *Synthetic) check(task int) error {
	if task < 0 || task >= s.config.Tasks {
		return fmt.Errorf("task %d out of range [0, %d)", task, s.config.Tasks)
	}
	return nil
}

func (s *Synthetic) sample(task, n int, split int64) *domainOWM.TaskData {
	labels := make([]int, n)
	if n == 0 {
		return &domainOWM.TaskData{X: &mat.Dense{}, Labels: labels}
	}

	rng := rand.New(rand.NewSource(s.config.Seed*1_000_003 + int64(task)*2 + split + 1))
	x := mat.NewDense(n, s.config.FeatureDim, nil)
	for i := 0; i < n; i++ {
		labels[i] = task
		for j := 0; j < s.config.FeatureDim; j++ {
			x.Set(i, j, s.centers.At(task, j)+rng.NormFloat64()*s.config.Spread)
		}
	}
	return &domainOWM.TaskData{X: x, Labels: labels}
}
