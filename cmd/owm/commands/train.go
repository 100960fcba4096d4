package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	appOWM "github.com/owm-go/owm/internal/application/owm"
	domainOWM "github.com/owm-go/owm/internal/domain/owm"
	"github.com/owm-go/owm/internal/shared"
)

// Flag variables for train
var (
	trainLogPath  string
	trainDumpPath string
	trainResume   string
)

// TrainCmd trains every task in order and evaluates all of them at the end.
var TrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run continual learning over all tasks",
	Long: `Train the network task by task with orthogonal weight modification.

Each task is trained until its held-out accuracy converges or the epoch cap is
reached; extension epochs run once per task while the epoch count is within
--iter-threshold. Progress is printed and optionally appended to --log.
Ctrl+C stops between batches; the run can be continued with --resume.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var cfg domainOWM.Config
		if trainResume != "" {
			run, err := store.GetRun(ctx, trainResume)
			if err != nil {
				return err
			}
			cfg = run.Config
		} else {
			cfg, err = ResolveConfig()
			if err != nil {
				return err
			}
		}

		logger, closeLog, err := newLogger(trainLogPath)
		if err != nil {
			return err
		}
		defer closeLog()

		source, err := openSource(cfg)
		if err != nil {
			return err
		}

		service, err := appOWM.NewService(cfg,
			appOWM.WithStore(store),
			appOWM.WithLogger(logger),
			appOWM.WithAccuracyDump(trainDumpPath),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize training service: %w", err)
		}

		var result *appOWM.RunResult
		if trainResume != "" {
			result, err = service.Resume(ctx, trainResume, source)
		} else {
			result, err = service.Run(ctx, source)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) && result != nil {
				fmt.Printf("\nRun %s cancelled after %d tasks. Continue with:\n  owm train --resume %s --store %s\n",
					result.RunID, len(result.Ledger), result.RunID, settings.GetString("store"))
				return nil
			}
			return fmt.Errorf("training failed: %w", err)
		}

		failed := 0
		for _, entry := range result.Ledger {
			if entry.Failed {
				failed++
			}
		}

		fmt.Println(strings.Repeat("-", 50))
		fmt.Println("Training Complete!")
		fmt.Printf("  Run ID:         %s\n", result.RunID)
		fmt.Printf("  Tasks:          %d\n", len(result.Ledger))
		fmt.Printf("  Failed tasks:   %d\n", failed)
		fmt.Printf("  Final accuracy: %.2f %%\n", result.FinalAccuracy)
		fmt.Printf("  Elapsed:        %s\n", shared.FormatElapsed(result.Elapsed))
		return nil
	},
}

func init() {
	TrainCmd.Flags().StringVar(&trainLogPath, "log", "", "Append progress lines to this file")
	TrainCmd.Flags().StringVar(&trainDumpPath, "dump-accuracies", "", "Write per-task accuracies as raw little-endian float64")
	TrainCmd.Flags().StringVar(&trainResume, "resume", "", "Continue a stored run from its latest checkpoint")
}
