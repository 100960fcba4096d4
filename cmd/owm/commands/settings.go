// Package commands provides CLI command implementations.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
	"github.com/owm-go/owm/internal/infrastructure/dataset"
	"github.com/owm-go/owm/internal/infrastructure/logging"
	"github.com/owm-go/owm/internal/infrastructure/storage"
)

// EnvPrefix prefixes every environment override, e.g. OWM_NUM_EPOCHS.
const EnvPrefix = "OWM"

// settings merges flags, OWM_* environment variables and the config file.
var settings = viper.New()

// RegisterFlags adds the run configuration flags to cmd as persistent flags
// and binds them.
func RegisterFlags(cmd *cobra.Command) {
	d := domainOWM.DefaultConfig()
	fs := cmd.PersistentFlags()

	fs.Int("class-num", d.ClassNum, "Number of tasks; one class is learned per task")
	fs.Int("num-epochs", d.NumEpochs, "Maximum regular epochs per task")
	fs.Int("batch-size", d.EvalBatchSize, "Held-out evaluation batch size")
	fs.Int("batch-divisor", d.BatchDivisor, "Training batch size is task samples divided by this")
	fs.Int("iter-threshold", d.IterThreshold, "Last epoch (1-based) after which extension epochs may still run")
	fs.Int("add-epochs", d.AddEpochs, "Extension epochs granted once per task")
	fs.Int("immune-distance", d.ImmuneDistance, "Leading epochs that only update projections")
	fs.Int("feature-dim", d.FeatureDim(), "Input feature width")
	fs.IntSlice("hidden", []int{d.Layers[0].OutputDim}, "Hidden layer widths")
	fs.StringSlice("alpha", []string{"100", "100"}, "Projection regularizer per layer (one value applies to all)")
	fs.Float64("lr", d.Schedule.LearningRate, "Weight learning rate")
	fs.String("activation", string(d.HiddenActivation), "Hidden activation: relu, tanh or identity")
	fs.Int64("seed", d.Seed, "Random seed for initialization and shuffling")
	fs.String("device", d.Device, "Compute device (only cpu is supported)")
	fs.Int("eval-workers", d.EvalWorkers, "Goroutines used by the final evaluation")

	fs.String("store", "owm.db", "Run store: SQLite path or PostgreSQL DSN")
	fs.String("log-level", "info", "Log level: debug, info, warning, error")
	fs.Bool("synthetic", false, "Train on seeded synthetic clusters")
	fs.String("data-dir", "", "Directory of train_<i>.bin / test_<i>.bin task files")
	fs.Int("train-per-task", 200, "Synthetic training samples per task")
	fs.Int("test-per-task", 50, "Synthetic held-out samples per task")

	_ = settings.BindPFlags(fs)
	_ = settings.BindPFlag("schedule.learning-rate", fs.Lookup("lr"))
}

// LoadSettings enables environment overrides and reads configFile if set.
func LoadSettings(configFile string) error {
	settings.SetEnvPrefix(EnvPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	settings.AutomaticEnv()

	if configFile == "" {
		return nil
	}
	settings.SetConfigFile(configFile)
	if err := settings.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", configFile, err)
	}
	return nil
}

// ResolveConfig builds the validated run configuration. A config file may
// list layers explicitly; otherwise they are derived from feature-dim,
// hidden and class-num.
func ResolveConfig() (domainOWM.Config, error) {
	cfg := domainOWM.DefaultConfig()
	if err := settings.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if !settings.InConfig("layers") {
		layers, err := BuildLayers(settings.GetInt("feature-dim"), settings.GetIntSlice("hidden"), cfg.ClassNum, settings.GetStringSlice("alpha"))
		if err != nil {
			return cfg, err
		}
		cfg.Layers = layers
	}
	return cfg, cfg.Validate()
}

// BuildLayers chains featureDim through hidden to classes. A single alpha is
// used for every layer.
func BuildLayers(featureDim int, hidden []int, classes int, alphas []string) ([]domainOWM.LayerConfig, error) {
	dims := append([]int{featureDim}, hidden...)
	dims = append(dims, classes)
	n := len(dims) - 1

	values := make([]float64, 0, len(alphas))
	for _, a := range alphas {
		v, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: alpha %q", domainOWM.ErrConfiguration, a)
		}
		values = append(values, v)
	}
	switch {
	case len(values) == 1:
		for len(values) < n {
			values = append(values, values[0])
		}
	case len(values) < n:
		return nil, fmt.Errorf("%w: %d alpha values for %d layers", domainOWM.ErrConfiguration, len(values), n)
	}

	layers := make([]domainOWM.LayerConfig, n)
	for i := range layers {
		layers[i] = domainOWM.LayerConfig{InputDim: dims[i], OutputDim: dims[i+1], Alpha: values[i]}
	}
	return layers, nil
}

func openStore(ctx context.Context) (*storage.SQLStore, error) {
	store, err := storage.Open(ctx, settings.GetString("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return store, nil
}

func openSource(cfg domainOWM.Config) (domainOWM.TaskSource, error) {
	if settings.GetBool("synthetic") {
		sc := dataset.DefaultSyntheticConfig()
		sc.Tasks = cfg.ClassNum
		sc.FeatureDim = cfg.FeatureDim()
		sc.TrainPerTask = settings.GetInt("train-per-task")
		sc.TestPerTask = settings.GetInt("test-per-task")
		sc.Seed = cfg.Seed
		return dataset.NewSynthetic(sc)
	}
	if dir := settings.GetString("data-dir"); dir != "" {
		return dataset.NewMatrixDir(dir, cfg.FeatureDim())
	}
	return nil, fmt.Errorf("either --synthetic or --data-dir is required")
}

// newLogger prints progress to stdout and, when path is set, appends it to a file.
func newLogger(path string) (*logging.LogManager, func(), error) {
	level, err := logging.ParseLevel(settings.GetString("log-level"))
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogManager(level, 10000)
	logger.AddHandler(logging.WriterHandler(os.Stdout))

	if path == "" {
		return logger, func() {}, nil
	}
	file, err := logging.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	logger.AddHandler(file.Handle)
	return logger, func() { file.Close() }, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupt received, stopping after the current batch...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
