package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set by ldflags at build time.
var version = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			_ = printJSON(cmd.OutOrStdout(), map[string]string{"name": "spendgate", "version": version})
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "spendgate %s\n", version)
	},
}
