package owm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
	"github.com/owm-go/owm/internal/infrastructure/events"
	"github.com/owm-go/owm/internal/infrastructure/logging"
	infraOWM "github.com/owm-go/owm/internal/infrastructure/owm"
	"github.com/owm-go/owm/internal/infrastructure/storage"
	"github.com/owm-go/owm/internal/shared"
)

// Service runs the task-by-task continual-learning loop over one network.
type Service struct {
	mu         sync.Mutex
	config     domainOWM.Config
	network    *infraOWM.Network
	controller *TaskController
	store      domainOWM.RunStore
	bus        *events.EventBus
	logger     *logging.LogManager
	dumpPath   string
	stats      *ServiceStats
}

// ServiceStats contains service statistics.
type ServiceStats struct {
	Runs          int64 `json:"runs"`
	TasksTrained  int64 `json:"tasksTrained"`
	TasksFailed   int64 `json:"tasksFailed"`
	EpochsTrained int64 `json:"epochsTrained"`
	ExtensionRuns int64 `json:"extensionRuns"`
	Resumes       int64 `json:"resumes"`
}

// RunResult is the outcome of a run.
type RunResult struct {
	RunID         string                  `json:"runId"`
	Status        domainOWM.RunStatus     `json:"status"`
	Ledger        []domainOWM.LedgerEntry `json:"ledger"`
	Tasks         []domainOWM.TaskResult  `json:"tasks"`
	FinalAccuracy float64                 `json:"finalAccuracy"`
	Elapsed       time.Duration           `json:"elapsed"`
}

// Option configures the Service.
type Option func(*Service)

// WithStore persists runs, epochs, ledger entries and checkpoints.
func WithStore(store domainOWM.RunStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithEventBus publishes training events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Service) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithLogger writes progress lines to logger. The logger is bridged to the
// service's event bus.
func WithLogger(logger *logging.LogManager) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAccuracyDump writes the ledger accuracies to path after a run.
func WithAccuracyDump(path string) Option {
	return func(s *Service) {
		s.dumpPath = path
	}
}

// NewService validates config and builds a freshly initialised network.
func NewService(config domainOWM.Config, opts ...Option) (*Service, error) {
	network, err := infraOWM.NewNetwork(config)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:     config,
		network:    network,
		controller: NewTaskController(network, config),
		stats:      &ServiceStats{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = events.New()
	}
	if s.logger == nil {
		s.logger = logging.NewLogManagerWithDefaults()
	}
	logging.Bridge(s.bus, s.logger)

	return s, nil
}

// Config returns the run configuration.
func (s *Service) Config() domainOWM.Config {
	return s.config
}

// Network returns the trained network.
func (s *Service) Network() *infraOWM.Network {
	return s.network
}

// Events returns the event bus.
func (s *Service) Events() *events.EventBus {
	return s.bus
}

// Logger returns the progress logger.
func (s *Service) Logger() *logging.LogManager {
	return s.logger
}

// Stats returns a copy of the service counters.
func (s *Service) Stats() ServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stats
}

// Run trains every task of source in order and evaluates all of them at the end.
func (s *Service) Run(ctx context.Context, source domainOWM.TaskSource) (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.preflight(source, 0); err != nil {
		return nil, err
	}

	run := &domainOWM.Run{ID: uuid.New().String(), Config: s.config, Status: domainOWM.RunStatusRunning, StartedAt: time.Now()}
	if s.store != nil {
		if err := s.store.CreateRun(ctx, run); err != nil {
			return nil, err
		}
	}
	return s.train(ctx, run.ID, source, 0, domainOWM.NewAccuracyLedger(), nil)
}

// Resume continues a stored run from the task after its latest checkpoint.
// The service must have been created with the run's configuration.
func (s *Service) Resume(ctx context.Context, runID string, source domainOWM.TaskSource) (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil, fmt.Errorf("resume requires a run store")
	}
	cp, err := s.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := s.network.Restore(cp.Layers); err != nil {
		return nil, fmt.Errorf("failed to restore checkpoint of run %s: %w", runID, err)
	}

	prior, err := s.store.TaskResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	ledger := domainOWM.NewAccuracyLedger()
	var results []domainOWM.TaskResult
	for _, r := range prior {
		if r.Task > cp.Task {
			break
		}
		if err := ledger.Append(domainOWM.LedgerEntry{Task: r.Task, Accuracy: r.Accuracy, Failed: r.Failed}); err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		results = append(results, r)
	}
	if ledger.Len() != cp.Task+1 {
		return nil, fmt.Errorf("run %s: %w: %d ledger entries for checkpoint of task %d",
			runID, domainOWM.ErrLedgerOrder, ledger.Len(), cp.Task)
	}

	s.stats.Resumes++
	start := cp.Task + 1
	if err := s.preflight(source, start); err != nil {
		return nil, err
	}
	s.logger.Info(fmt.Sprintf("resuming run %s at task %d", runID, start+1), nil)
	return s.train(ctx, runID, source, start, ledger, results)
}

// preflight rejects configurations and sources that cannot be trained
// before any state changes.
func (s *Service) preflight(source domainOWM.TaskSource, start int) error {
	if source == nil {
		return fmt.Errorf("%w: no task source", domainOWM.ErrConfiguration)
	}
	if source.NumTasks() < s.config.ClassNum {
		return fmt.Errorf("%w: source has %d tasks, need %d", domainOWM.ErrConfiguration, source.NumTasks(), s.config.ClassNum)
	}
	for task := start; task < s.config.ClassNum; task++ {
		n, err := source.TrainSize(task)
		if err != nil {
			if domainOWM.IsRecoverable(err) {
				continue
			}
			return fmt.Errorf("task %d: %w", task, err)
		}
		if _, err := s.config.BatchSize(n); err != nil {
			return fmt.Errorf("task %d has %d training samples: %w", task, n, err)
		}
	}
	return nil
}

func (s *Service) train(ctx context.Context, runID string, source domainOWM.TaskSource, start int, ledger *domainOWM.AccuracyLedger, results []domainOWM.TaskResult) (*RunResult, error) {
	began := time.Now()
	tasks := s.config.ClassNum
	s.stats.Runs++
	s.bus.EmitRunStarted(runID, tasks)

	scheduler := NewScheduler(s.config, runID, tasks, s.bus, s.recorder())

	for task := start; task < tasks; task++ {
		snapshot := s.network.Snapshot()
		taskStart := time.Now()

		state, err := s.trainTask(ctx, scheduler, source, task)
		result := state.Result()
		result.Duration = time.Since(taskStart)

		if err != nil {
			if ctx.Err() != nil || !domainOWM.IsRecoverable(err) {
				status := domainOWM.RunStatusFailed
				if ctx.Err() != nil {
					status = domainOWM.RunStatusCancelled
				}
				s.finish(runID, status, ledger.Mean())
				return &RunResult{RunID: runID, Status: status, Ledger: ledger.Entries(), Tasks: results, Elapsed: time.Since(began)}, err
			}

			if errors.Is(err, domainOWM.ErrNumericalInstability) {
				if rerr := s.network.Restore(snapshot); rerr != nil {
					return nil, fmt.Errorf("task %d: %v; restore failed: %w", task, err, rerr)
				}
			}
			result.Phase = domainOWM.TaskFailed
			result.Failed = true
			result.Error = err.Error()
			s.stats.TasksFailed++
			s.bus.EmitTaskFailed(runID, task, err)
		}

		s.stats.TasksTrained++
		s.stats.EpochsTrained += int64(result.EpochsRun + result.ExtensionEpochs)
		if result.ExtensionEpochs > 0 {
			s.stats.ExtensionRuns++
		}

		if err := ledger.Append(domainOWM.LedgerEntry{Task: task, Accuracy: result.Accuracy, Failed: result.Failed}); err != nil {
			return nil, err
		}
		results = append(results, result)

		if err := s.persistTask(ctx, runID, result); err != nil {
			s.finish(runID, domainOWM.RunStatusFailed, ledger.Mean())
			return nil, err
		}
	}

	final, err := s.evaluate(ctx, source)
	if err != nil {
		status := domainOWM.RunStatusFailed
		if ctx.Err() != nil {
			status = domainOWM.RunStatusCancelled
		}
		s.finish(runID, status, ledger.Mean())
		return nil, err
	}

	elapsed := time.Since(began)
	s.bus.EmitRunCompleted(runID, final, shared.FormatElapsed(elapsed))

	if s.dumpPath != "" {
		if err := storage.DumpAccuracies(s.dumpPath, ledger.Accuracies()); err != nil {
			s.logger.Warning(err.Error(), nil)
		}
	}
	s.finish(runID, domainOWM.RunStatusCompleted, final)

	return &RunResult{
		RunID:         runID,
		Status:        domainOWM.RunStatusCompleted,
		Ledger:        ledger.Entries(),
		Tasks:         results,
		FinalAccuracy: final,
		Elapsed:       elapsed,
	}, nil
}

// trainTask loads one task and hands it to the scheduler. The returned state
// is never nil.
func (s *Service) trainTask(ctx context.Context, scheduler *Scheduler, source domainOWM.TaskSource, task int) (*domainOWM.TaskState, error) {
	state := domainOWM.NewTaskState(task)

	train, err := source.Train(task)
	if err != nil {
		return state, err
	}
	test, err := source.Test(task)
	if err != nil {
		return state, err
	}
	session, err := s.controller.NewSession(task, train, test)
	if err != nil {
		return state, err
	}
	s.logger.Debug(fmt.Sprintf("task %d: %d samples, batch size %d, %d batches per epoch",
		task, train.Len(), session.BatchSize(), session.Batches()), nil)

	return scheduler.RunTask(ctx, task, session, session)
}

func (s *Service) recorder() EpochRecorder {
	if s.store == nil {
		return nil
	}
	return s.store
}

func (s *Service) persistTask(ctx context.Context, runID string, result domainOWM.TaskResult) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.RecordTask(ctx, runID, result); err != nil {
		return err
	}
	return s.store.SaveCheckpoint(ctx, &domainOWM.Checkpoint{
		RunID:  runID,
		Task:   result.Task,
		Layers: s.network.Snapshot(),
	})
}

// finish marks the run terminal. It uses a fresh context so that a
// cancelled run is still recorded as cancelled.
func (s *Service) finish(runID string, status domainOWM.RunStatus, accuracy float64) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.CompleteRun(ctx, runID, status, accuracy); err != nil {
		s.logger.Warning(fmt.Sprintf("failed to complete run %s: %v", runID, err), nil)
	}
}

// Evaluate scores the network on the held-out split of every configured task
// and returns the overall accuracy percentage.
func (s *Service) Evaluate(ctx context.Context, source domainOWM.TaskSource) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluate(ctx, source)
}

// LoadCheckpoint replaces the network state with a run's latest checkpoint.
func (s *Service) LoadCheckpoint(ctx context.Context, runID string) (*domainOWM.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil, fmt.Errorf("loading a checkpoint requires a run store")
	}
	cp, err := s.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := s.network.Restore(cp.Layers); err != nil {
		return nil, err
	}
	return cp, nil
}

// evaluate fans the held-out batches of all tasks out to EvalWorkers
// goroutines. Tasks whose data cannot be loaded are skipped.
func (s *Service) evaluate(ctx context.Context, source domainOWM.TaskSource) (float64, error) {
	var batches []infraOWM.Batch
	for task := 0; task < s.config.ClassNum && task < source.NumTasks(); task++ {
		test, err := source.Test(task)
		if err == nil {
			err = test.Validate(task, s.config.FeatureDim(), s.config.ClassNum)
		}
		if err != nil {
			if domainOWM.IsRecoverable(err) {
				s.logger.Warning(fmt.Sprintf("skipping task %d in final evaluation: %v", task, err), nil)
				continue
			}
			return 0, err
		}
		if test.Len() == 0 {
			continue
		}
		batches = append(batches, infraOWM.SplitBatches(test.X, domainOWM.OneHot(test.Labels, s.config.ClassNum), s.config.EvalBatchSize)...)
	}

	hits, rows, err := infraOWM.EvaluateParallel(ctx, s.network, batches, s.config.EvalWorkers)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, nil
	}
	return float64(hits) / float64(rows) * 100, nil
}
