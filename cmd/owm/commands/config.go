package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ConfigCmd is the parent command for configuration helpers.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Long: `Print the configuration after merging defaults, the --config file,
OWM_* environment variables and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ResolveConfig()
		if err != nil {
			return err
		}
		output, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(output))
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
}
