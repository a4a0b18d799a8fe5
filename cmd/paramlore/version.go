package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the paramlore version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"version": Version})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "paramlore %s\n", Version)
		return nil
	},
}
