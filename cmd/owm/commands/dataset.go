package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/owm-go/owm/internal/infrastructure/dataset"
)

var datasetOut string

// DatasetCmd is the parent command for task data helpers.
var DatasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Task data commands",
}

var datasetExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the synthetic tasks as train_<i>.bin / test_<i>.bin files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ResolveConfig()
		if err != nil {
			return err
		}
		sc := dataset.DefaultSyntheticConfig()
		sc.Tasks = cfg.ClassNum
		sc.FeatureDim = cfg.FeatureDim()
		sc.TrainPerTask = settings.GetInt("train-per-task")
		sc.TestPerTask = settings.GetInt("test-per-task")
		sc.Seed = cfg.Seed

		src, err := dataset.NewSynthetic(sc)
		if err != nil {
			return err
		}
		if err := dataset.Export(src, datasetOut); err != nil {
			return err
		}
		fmt.Printf("Wrote %d tasks to %s\n", sc.Tasks, datasetOut)
		return nil
	},
}

func init() {
	datasetExportCmd.Flags().StringVarP(&datasetOut, "out", "o", "data", "Output directory")
	DatasetCmd.AddCommand(datasetExportCmd)
}
