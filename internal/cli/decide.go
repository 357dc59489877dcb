package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/spendgate/internal/model"
)

var (
	decideAs       string
	decideComments string
	overrideReject bool
)

func init() {
	for _, cmd := range []*cobra.Command{approveCmd, rejectCmd, overrideCmd, escalateCmd} {
		cmd.Flags().StringVar(&decideAs, "as", "", "Acting user id (required)")
		_ = cmd.MarkFlagRequired("as")
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{approveCmd, rejectCmd, overrideCmd} {
		cmd.Flags().StringVarP(&decideComments, "comment", "m", "", "Comments recorded with the decision")
	}
	overrideCmd.Flags().BoolVar(&overrideReject, "reject", false, "Force rejection instead of approval")
}

var approveCmd = &cobra.Command{
	Use:   "approve <expense-id>",
	Short: "Approve an expense as the current approver",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecide(model.Approve),
}

var rejectCmd = &cobra.Command{
	Use:   "reject <expense-id>",
	Short: "Reject an expense as the current approver",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecide(model.Reject),
}

var overrideCmd = &cobra.Command{
	Use:   "override <expense-id>",
	Short: "Force an outcome on an open expense (needs the override permission)",
	Args:  cobra.ExactArgs(1),
	RunE:  runOverride,
}

var escalateCmd = &cobra.Command{
	Use:   "escalate <expense-id>",
	Short: "Mark a pending expense as escalated",
	Args:  cobra.ExactArgs(1),
	RunE:  runEscalate,
}

func runDecide(d model.Decision) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()

		e, err := b.Decide(cmd.Context(), args[0], decideAs, d, decideComments)
		if err != nil {
			return fmt.Errorf("decision failed: %w", err)
		}
		return printExpense(cmd.OutOrStdout(), e)
	}
}

func runOverride(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	d := model.Approve
	if overrideReject {
		d = model.Reject
	}
	e, err := a.svc.Override(cmd.Context(), args[0], decideAs, d, decideComments)
	if err != nil {
		return fmt.Errorf("override failed: %w", err)
	}
	return printExpense(cmd.OutOrStdout(), e)
}

func runEscalate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := a.svc.Escalate(cmd.Context(), args[0], decideAs)
	if err != nil {
		return fmt.Errorf("escalate failed: %w", err)
	}
	return printExpense(cmd.OutOrStdout(), e)
}
