package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

var (
	runsLimit      int
	runsShowEpochs bool
)

// RunsCmd is the parent command for stored runs.
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored training runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTASKS\tACCURACY\tSTARTED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%s\n",
				run.ID, run.Status, run.Config.ClassNum, run.FinalAccuracy, run.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its task ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		tasks, err := store.TaskResults(ctx, run.ID)
		if err != nil {
			return err
		}

		out := struct {
			Run    *domainOWM.Run         `json:"run"`
			Tasks  []domainOWM.TaskResult `json:"tasks"`
			Epochs []domainOWM.EpochStats `json:"epochs,omitempty"`
		}{Run: run, Tasks: tasks}

		if runsShowEpochs {
			out.Epochs, err = store.ListEpochs(ctx, run.ID, -1)
			if err != nil {
				return err
			}
		}

		output, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(output))
		return nil
	},
}

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "l", 20, "Maximum runs to list")
	runsShowCmd.Flags().BoolVar(&runsShowEpochs, "epochs", false, "Include every epoch")
	RunsCmd.AddCommand(runsListCmd)
	RunsCmd.AddCommand(runsShowCmd)
}
