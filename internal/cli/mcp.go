package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	sgmcp "github.com/ppiankov/spendgate/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs spendgate as an MCP (Model Context Protocol) server over stdio.\nExposes tools: submit, decide, get, pending.",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := sgmcp.New(a.svc, sgmcp.Config{Version: version}, a.log)
	fmt.Fprintln(os.Stderr, "spendgate MCP server running on stdio")
	return srv.Run(ctx)
}
