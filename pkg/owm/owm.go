// Package owm provides the public API for owm-go.
//
// It trains a network on a sequence of tasks with orthogonal weight
// modification: every weight step is projected away from the input subspace
// seen by earlier tasks, so old tasks are not overwritten.
//
// Example:
//
//	cfg := owm.DefaultConfig()
//	cfg.ClassNum = 10
//	cfg.Layers = []owm.LayerConfig{
//	    {InputDim: 32, OutputDim: 64, Alpha: 100},
//	    {InputDim: 64, OutputDim: 10, Alpha: 100},
//	}
//
//	source, _ := owm.NewSynthetic(owm.DefaultSyntheticConfig())
//	service, err := owm.NewService(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := service.Run(ctx, source)
package owm

import (
	"context"

	"gonum.org/v1/gonum/mat"

	appOWM "github.com/owm-go/owm/internal/application/owm"
	domainOWM "github.com/owm-go/owm/internal/domain/owm"
	"github.com/owm-go/owm/internal/infrastructure/dataset"
	"github.com/owm-go/owm/internal/infrastructure/events"
	"github.com/owm-go/owm/internal/infrastructure/logging"
	infraOWM "github.com/owm-go/owm/internal/infrastructure/owm"
	"github.com/owm-go/owm/internal/infrastructure/storage"
	"github.com/owm-go/owm/internal/shared"
)

// Re-export types for public API
type (
	// Configuration
	Config         = domainOWM.Config
	LayerConfig    = domainOWM.LayerConfig
	ScheduleConfig = domainOWM.ScheduleConfig
	Activation     = domainOWM.Activation

	// Data
	TaskData        = domainOWM.TaskData
	TaskSource      = domainOWM.TaskSource
	SyntheticConfig = dataset.SyntheticConfig

	// Results
	LedgerEntry = domainOWM.LedgerEntry
	TaskResult  = domainOWM.TaskResult
	TaskPhase   = domainOWM.TaskPhase
	EpochStats  = domainOWM.EpochStats
	RunResult   = appOWM.RunResult
	Run         = domainOWM.Run
	RunStatus   = domainOWM.RunStatus

	// Errors
	NumericalError = domainOWM.NumericalError
	DataShapeError = domainOWM.DataShapeError

	// Runtime
	Service    = appOWM.Service
	Option     = appOWM.Option
	RunStore   = domainOWM.RunStore
	EventBus   = events.EventBus
	LogManager = logging.LogManager
	Event      = shared.Event
	EventType  = shared.EventType
)

// Event type constants
const (
	EventRunStarted     = shared.EventRunStarted
	EventRunCompleted   = shared.EventRunCompleted
	EventEpochCompleted = shared.EventEpochCompleted
	EventTaskConverged  = shared.EventTaskConverged
	EventTaskExtended   = shared.EventTaskExtended
	EventTaskCompleted  = shared.EventTaskCompleted
	EventTaskFailed     = shared.EventTaskFailed
)

// Sentinel errors
var (
	ErrConfiguration        = domainOWM.ErrConfiguration
	ErrNumericalInstability = domainOWM.ErrNumericalInstability
	ErrDataShape            = domainOWM.ErrDataShape
	ErrRunNotFound          = domainOWM.ErrRunNotFound
	ErrCheckpointNotFound   = domainOWM.ErrCheckpointNotFound
)

// Service options
var (
	WithStore        = appOWM.WithStore
	WithEventBus     = appOWM.WithEventBus
	WithLogger       = appOWM.WithLogger
	WithAccuracyDump = appOWM.WithAccuracyDump
)

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return domainOWM.DefaultConfig()
}

// DefaultSyntheticConfig returns the default synthetic task configuration.
func DefaultSyntheticConfig() SyntheticConfig {
	return dataset.DefaultSyntheticConfig()
}

// NewService validates the configuration and builds a training service.
func NewService(config Config, opts ...Option) (*Service, error) {
	return appOWM.NewService(config, opts...)
}

// NewSynthetic creates a seeded Gaussian task source.
func NewSynthetic(config SyntheticConfig) (TaskSource, error) {
	return dataset.NewSynthetic(config)
}

// OpenMatrixDir opens a directory of train_<i>.bin / test_<i>.bin files.
func OpenMatrixDir(dir string, featureDim int) (TaskSource, error) {
	return dataset.NewMatrixDir(dir, featureDim)
}

// OpenStore opens a SQLite file (or ":memory:") or a Postgres DSN.
func OpenStore(ctx context.Context, dsn string) (RunStore, error) {
	return storage.Open(ctx, dsn)
}

// NewEventBus creates a training event bus.
func NewEventBus() *EventBus {
	return events.New()
}

// ShouldConverge reports whether a task's held-out accuracy has settled.
func ShouldConverge(oldAcc, newAcc float64) bool {
	return appOWM.ShouldConverge(oldAcc, newAcc)
}

// UpdateProjection returns P after absorbing the activation x.
func UpdateProjection(p *mat.Dense, x []float64, alpha float64) (*mat.Dense, error) {
	return infraOWM.UpdateProjection(p, x, alpha)
}
