package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(matchCmd)
	addExpenseFlags(matchCmd)
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Show which rule and approvers an expense would get",
	Long:  "Dry run of submit against the local rules. Nothing is stored or audited.",
	Args:  cobra.NoArgs,
	RunE:  runMatch,
}

func runMatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sub, err := submitRequest().Parse()
	if err != nil {
		return err
	}
	e, err := a.svc.Preview(cmd.Context(), sub)
	if err != nil {
		return fmt.Errorf("match failed: %w", err)
	}
	return printExpense(cmd.OutOrStdout(), e)
}
