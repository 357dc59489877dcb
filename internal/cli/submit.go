package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spendgate/internal/server"
)

var (
	submitAs          string
	submitAmount      string
	submitCurrency    string
	submitCategory    string
	submitDate        string
	submitDescription string
)

func init() {
	rootCmd.AddCommand(submitCmd)
	addExpenseFlags(submitCmd)
}

// addExpenseFlags registers the flags shared by submit and match.
func addExpenseFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&submitAs, "as", "", "Submitter id (required)")
	cmd.Flags().StringVar(&submitAmount, "amount", "", "Decimal amount (required)")
	cmd.Flags().StringVar(&submitCurrency, "currency", "", "ISO 4217 code (default: base currency)")
	cmd.Flags().StringVar(&submitCategory, "category", "", "Expense category (required)")
	cmd.Flags().StringVar(&submitDate, "date", "", "Expense date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVarP(&submitDescription, "description", "d", "", "What the expense was for (required)")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("category")
}

func submitRequest() server.SubmitRequest {
	return server.SubmitRequest{
		SubmitterID: submitAs,
		Description: submitDescription,
		Amount:      submitAmount,
		Currency:    submitCurrency,
		Category:    submitCategory,
		Date:        submitDate,
	}
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an expense for approval",
	Long:  "Stores the expense, converts it to the base currency and routes it through the first matching rule.",
	Args:  cobra.NoArgs,
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	e, err := b.Submit(cmd.Context(), submitRequest())
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	return printExpense(cmd.OutOrStdout(), e)
}
