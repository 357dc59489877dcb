package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/server"
)

var (
	listStatus    string
	listSubmitter string
	listCategory  string
	listFrom      string
	listTo        string
	listLimit     int
	pendingAs     string
	statsAs       string
)

func init() {
	rootCmd.AddCommand(listCmd, getCmd, pendingCmd, statsCmd)

	listCmd.Flags().StringVar(&listStatus, "status", "", "Comma-separated statuses (pending,escalated,approved,rejected)")
	listCmd.Flags().StringVar(&listSubmitter, "submitter", "", "Only expenses by this submitter")
	listCmd.Flags().StringVar(&listCategory, "category", "", "Only this category")
	listCmd.Flags().StringVar(&listFrom, "from", "", "Earliest expense date YYYY-MM-DD")
	listCmd.Flags().StringVar(&listTo, "to", "", "Latest expense date YYYY-MM-DD (inclusive)")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Maximum number of expenses")

	pendingCmd.Flags().StringVar(&pendingAs, "as", "", "Approver id (required)")
	_ = pendingCmd.MarkFlagRequired("as")

	statsCmd.Flags().StringVar(&statsAs, "submitter", "", "Only expenses by this submitter")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List expenses, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var getCmd = &cobra.Command{
	Use:   "get <expense-id>",
	Short: "Show an expense with its approval plan and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List expenses the approver can decide now",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize expenses by status",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runList(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	list, err := b.List(cmd.Context(), server.ListRequest{
		Status:      listStatus,
		SubmitterID: listSubmitter,
		Category:    listCategory,
		From:        listFrom,
		To:          listTo,
		Limit:       listLimit,
	})
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	return printExpenses(cmd.OutOrStdout(), list)
}

func runGet(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	e, err := b.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printExpense(cmd.OutOrStdout(), e)
}

func runPending(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	list, err := b.Pending(cmd.Context(), pendingAs)
	if err != nil {
		return fmt.Errorf("pending failed: %w", err)
	}
	return printExpenses(cmd.OutOrStdout(), list)
}

func runStats(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	st, err := b.Stats(cmd.Context(), statsAs)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, st)
	}

	fmt.Fprintf(w, "Total: %d  Approval rate: %.1f%%\n", st.Total, st.ApprovalRate)
	for _, status := range []model.Status{model.StatusPending, model.StatusEscalated, model.StatusApproved, model.StatusRejected} {
		n := st.ByStatus[status]
		if n == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-10s %4d  %s %s\n", status, n, st.Amounts[status].StringFixed(2), st.BaseCurrency)
	}
	if st.Unconverted > 0 {
		fmt.Fprintf(w, "  %d expense(s) without a rate are counted at face value\n", st.Unconverted)
	}
	return nil
}
