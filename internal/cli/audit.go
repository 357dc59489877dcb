package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spendgate/internal/audit"
	"github.com/ppiankov/spendgate/internal/config"
)

var (
	tailLines     int
	replayExpense string
	replayActor   string
	replayFrom    string
	replayTo      string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd, auditReplayCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditReplayCmd.Flags().StringVar(&replayExpense, "expense", "", "Only this expense")
	auditReplayCmd.Flags().StringVar(&replayActor, "actor", "", "Only entries by this actor")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time (RFC3339)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [path]",
	Short: "Reconstruct the decision timeline of expenses",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditReplay,
}

// auditPath returns the explicit path, or the one from config.
func auditPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.AuditPath, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	entries, err := audit.Tail(path, tailLines)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, entries)
	}
	for _, e := range entries {
		fmt.Fprintln(w, audit.FormatEntry(e))
	}
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}

	filter := audit.ReplayFilter{ExpenseID: replayExpense, Actor: replayActor}
	if replayFrom != "" {
		if filter.From, err = time.Parse(time.RFC3339, replayFrom); err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
	}
	if replayTo != "" {
		if filter.To, err = time.Parse(time.RFC3339, replayTo); err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	return nil
}
