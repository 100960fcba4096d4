// Package owm provides domain types for orthogonal weight modification training.
package owm

import (
	"fmt"
	"strings"
)

// Activation names the nonlinearity applied between protected layers.
type Activation string

const (
	ActivationReLU     Activation = "relu"
	ActivationTanh     Activation = "tanh"
	ActivationIdentity Activation = "identity"
)

// DeviceCPU is the only supported compute device.
const DeviceCPU = "cpu"

// LayerConfig describes one OWM-protected linear map.
type LayerConfig struct {
	// InputDim is the width of the layer input (rows of W, size of P).
	InputDim int `json:"inputDim" mapstructure:"input-dim"`

	// OutputDim is the width of the layer output (columns of W).
	OutputDim int `json:"outputDim" mapstructure:"output-dim"`

	// Alpha regularizes the projection update.
	// Smaller values orthogonalize harder and forget less.
	Alpha float64 `json:"alpha" mapstructure:"alpha"`
}

// ScheduleConfig parameterizes the per-batch learning-rate triple
// [LearningRate, DecayScale*DecayBase^lamda, Tail].
type ScheduleConfig struct {
	// LearningRate scales every accepted weight step.
	LearningRate float64 `json:"learningRate" mapstructure:"learning-rate"`

	// DecayScale and DecayBase shape the first layer's alpha multiplier.
	DecayScale float64 `json:"decayScale" mapstructure:"decay-scale"`
	DecayBase  float64 `json:"decayBase" mapstructure:"decay-base"`

	// Tail is the constant alpha multiplier of every later layer.
	Tail float64 `json:"tail" mapstructure:"tail"`
}

// Config holds all hyperparameters of a continual-learning run.
type Config struct {
	// ClassNum is the number of tasks; one class is learned per task.
	ClassNum int `json:"classNum" mapstructure:"class-num"`

	// NumEpochs caps the regular epochs of a task.
	NumEpochs int `json:"numEpochs" mapstructure:"num-epochs"`

	// EvalBatchSize is the batch size used for held-out evaluation.
	EvalBatchSize int `json:"evalBatchSize" mapstructure:"batch-size"`

	// BatchDivisor splits each task's training set into this many batches.
	BatchDivisor int `json:"batchDivisor" mapstructure:"batch-divisor"`

	// IterThreshold is the last 1-based epoch at which extension epochs may run.
	IterThreshold int `json:"iterThreshold" mapstructure:"iter-threshold"`

	// AddEpochs is the number of extension epochs.
	AddEpochs int `json:"addEpochs" mapstructure:"add-epochs"`

	// ImmuneDistance is the number of leading epochs that only track the subspace.
	ImmuneDistance int `json:"immuneDistance" mapstructure:"immune-distance"`

	// Layers lists the protected linear maps, input first.
	Layers []LayerConfig `json:"layers" mapstructure:"layers"`

	// HiddenActivation is applied after every layer but the last.
	HiddenActivation Activation `json:"hiddenActivation" mapstructure:"activation"`

	// Schedule derives the per-batch learning rates.
	Schedule ScheduleConfig `json:"schedule" mapstructure:"schedule"`

	// Seed drives weight initialization and shuffling.
	Seed int64 `json:"seed" mapstructure:"seed"`

	// Device selects the compute backend.
	Device string `json:"device" mapstructure:"device"`

	// EvalWorkers bounds the parallelism of the final evaluation pass.
	EvalWorkers int `json:"evalWorkers" mapstructure:"eval-workers"`
}

// DefaultScheduleConfig returns the schedule used for handwritten-character runs.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		LearningRate: 2.0,
		DecayScale:   0.9,
		DecayBase:    0.08,
		Tail:         0.8,
	}
}

// DefaultConfig returns the configuration of the 3755-class character run:
// 1024 features, a 4000-unit hidden layer and one class per task.
func DefaultConfig() Config {
	return Config{
		ClassNum:       3755,
		NumEpochs:      50,
		EvalBatchSize:  100,
		BatchDivisor:   10,
		IterThreshold:  10,
		AddEpochs:      3,
		ImmuneDistance: 5,
		Layers: []LayerConfig{
			{InputDim: 1024, OutputDim: 4000, Alpha: 100.0},
			{InputDim: 4000, OutputDim: 3755, Alpha: 100.0},
		},
		HiddenActivation: ActivationReLU,
		Schedule:         DefaultScheduleConfig(),
		Seed:             1,
		Device:           DeviceCPU,
		EvalWorkers:      4,
	}
}

// FeatureDim is the input width of the first layer.
func (c Config) FeatureDim() int {
	if len(c.Layers) == 0 {
		return 0
	}
	return c.Layers[0].InputDim
}

// Validate fails fast on settings that would make training ill-defined.
func (c Config) Validate() error {
	if c.ClassNum <= 0 {
		return fmt.Errorf("%w: class num %d", ErrInvalidEpochs, c.ClassNum)
	}
	if c.NumEpochs <= 0 {
		return fmt.Errorf("%w: num epochs %d", ErrInvalidEpochs, c.NumEpochs)
	}
	if c.AddEpochs < 0 || c.IterThreshold < 0 || c.ImmuneDistance < 0 {
		return fmt.Errorf("%w: add epochs %d, iter threshold %d, immune distance %d",
			ErrInvalidEpochs, c.AddEpochs, c.IterThreshold, c.ImmuneDistance)
	}
	if c.ImmuneDistance >= c.NumEpochs {
		return fmt.Errorf("%w: immune distance %d leaves no trainable epoch out of %d",
			ErrInvalidEpochs, c.ImmuneDistance, c.NumEpochs)
	}
	if c.AddEpochs > 0 && c.IterThreshold < 1 {
		return fmt.Errorf("%w: add epochs %d with iter threshold %d", ErrUnreachableExtension, c.AddEpochs, c.IterThreshold)
	}
	if c.EvalBatchSize < 1 || c.BatchDivisor < 1 {
		return fmt.Errorf("%w: eval batch size %d, batch divisor %d", ErrInvalidBatchSize, c.EvalBatchSize, c.BatchDivisor)
	}
	if !strings.EqualFold(c.Device, DeviceCPU) {
		return fmt.Errorf("%w: %q", ErrUnsupportedDevice, c.Device)
	}
	switch c.HiddenActivation {
	case ActivationReLU, ActivationTanh, ActivationIdentity:
	default:
		return fmt.Errorf("%w: unknown activation %q", ErrConfiguration, c.HiddenActivation)
	}
	if len(c.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrLayerShape)
	}
	for i, layer := range c.Layers {
		if layer.Alpha <= 0 {
			return fmt.Errorf("%w: layer %d alpha %v", ErrInvalidAlpha, i, layer.Alpha)
		}
		if layer.InputDim <= 0 || layer.OutputDim <= 0 {
			return fmt.Errorf("%w: layer %d is %dx%d", ErrLayerShape, i, layer.InputDim, layer.OutputDim)
		}
		if i > 0 && c.Layers[i-1].OutputDim != layer.InputDim {
			return fmt.Errorf("%w: layer %d output %d feeds layer %d input %d",
				ErrLayerShape, i-1, c.Layers[i-1].OutputDim, i, layer.InputDim)
		}
	}
	if last := c.Layers[len(c.Layers)-1]; last.OutputDim != c.ClassNum {
		return fmt.Errorf("%w: last layer output %d, class num %d", ErrLayerShape, last.OutputDim, c.ClassNum)
	}
	s := c.Schedule
	if s.LearningRate <= 0 || s.DecayScale <= 0 || s.DecayBase <= 0 || s.Tail <= 0 {
		return fmt.Errorf("%w: schedule values must be positive", ErrInvalidAlpha)
	}
	return nil
}

// BatchSize derives the training batch size of a task with n samples.
// It is never below 1; an empty task is a configuration error.
func (c Config) BatchSize(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: task has %d samples", ErrInvalidBatchSize, n)
	}
	divisor := c.BatchDivisor
	if divisor < 1 {
		divisor = 1
	}
	size := n / divisor
	if size < 1 {
		size = 1
	}
	return size, nil
}
