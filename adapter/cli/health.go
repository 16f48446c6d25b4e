package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the local cache and the remote store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Health == nil {
			return errNotInitialized
		}
		out := cmd.OutOrStdout()

		results := app.Health.Check(cmd.Context())
		for _, name := range app.Health.Names() {
			r := results[name]
			fmt.Fprintf(out, "%-14s %-10s %s\n", name, r.Status, r.Message)
		}
		fmt.Fprintf(out, "overall: %s\n", app.Health.OverallStatus())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
