package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spendgate/internal/config"
	"github.com/ppiankov/spendgate/internal/receipt"
)

func init() {
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan <receipt-file|->",
	Short: "Suggest expense fields from receipt text",
	Long:  "Reads OCR'd receipt text from a file or stdin and prints the fields it could find.\nNothing is submitted.",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var data []byte
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read receipt: %w", err)
	}

	x := receipt.TextExtractor{DefaultCurrency: cfg.BaseCurrency}
	out, err := x.Extract(cmd.Context(), data)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, out)
	}
	fmt.Fprintf(w, "Merchant:   %s\n", out.Merchant)
	if out.Amount != nil {
		fmt.Fprintf(w, "Amount:     %s %s\n", out.Amount.StringFixed(2), out.Currency)
	} else {
		fmt.Fprintf(w, "Amount:     ? %s\n", out.Currency)
	}
	if out.Date != nil {
		fmt.Fprintf(w, "Date:       %s\n", out.Date.Format("2006-01-02"))
	}
	fmt.Fprintf(w, "Category:   %s\n", out.Category)
	fmt.Fprintf(w, "Confidence: %d%%\n", out.Confidence)
	return nil
}
