// Package cli implements the spendgate command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	remoteAddr string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "spendgate",
	Short: "Expense approval rules and workflow",
	Long: "Routes submitted expenses through configurable approval rules.\n" +
		"Runs as a gRPC/HTTP service, an MCP tool server, or directly from the command line.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.spendgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&remoteAddr, "remote", "", "gRPC address of a running spendgate server; local store is used when empty")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
