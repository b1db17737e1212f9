// Package cli wires the switchboard commands: running the service and
// poking at a running instance from the shell.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "switchboard",
		Short:         "Client/expert connection queue and dispatch service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config file (default: SWITCHBOARD_CONFIG or ./switchboard.yaml)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newInitCommand())
	root.AddCommand(newOverviewCommand())
	return root
}

func configPath(cmd *cobra.Command) string {
	if v, err := cmd.Flags().GetString("config"); err == nil && v != "" {
		return v
	}
	return ""
}
