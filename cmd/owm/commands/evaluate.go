package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	appOWM "github.com/owm-go/owm/internal/application/owm"
	"github.com/owm-go/owm/internal/infrastructure/logging"
)

var evaluateRunID string

// EvaluateCmd scores a stored checkpoint on the held-out split of every task.
var EvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a run's latest checkpoint on all tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(ctx, evaluateRunID)
		if err != nil {
			return err
		}

		source, err := openSource(run.Config)
		if err != nil {
			return err
		}

		service, err := appOWM.NewService(run.Config, appOWM.WithStore(store))
		if err != nil {
			return err
		}
		cp, err := service.LoadCheckpoint(ctx, run.ID)
		if err != nil {
			return err
		}

		acc, err := service.Evaluate(ctx, source)
		if err != nil {
			return fmt.Errorf("evaluation failed: %w", err)
		}

		fmt.Printf("Checkpoint after task %d of run %s\n", cp.Task+1, run.ID)
		for i, layer := range cp.Layers {
			fmt.Printf("  Layer %d: %d projection updates, free subspace %.2f\n",
				i, layer.Updates, mat.Trace(layer.Projection))
		}
		fmt.Println(logging.OverallLine(acc))
		return nil
	},
}

func init() {
	EvaluateCmd.Flags().StringVar(&evaluateRunID, "run", "", "Run ID (required)")
	EvaluateCmd.MarkFlagRequired("run")
}
