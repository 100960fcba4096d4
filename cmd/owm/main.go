// Package main provides the CLI entry point for owm.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/owm-go/owm/cmd/owm/commands"
)

var (
	version = "0.3.0"
	cfgFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "owm",
	Short: "Continual learning with orthogonal weight modification",
	Long: `owm trains a network on a sequence of tasks, one class per task, while
projecting every weight update away from the input subspace of earlier tasks.

Configuration is read from flags, OWM_* environment variables and an
optional --config file (YAML, JSON or TOML), in that order of precedence.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return commands.LoadSettings(cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	commands.RegisterFlags(rootCmd)

	rootCmd.AddCommand(commands.TrainCmd)
	rootCmd.AddCommand(commands.EvaluateCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DatasetCmd)
}
