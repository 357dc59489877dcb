package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ppiankov/spendgate/internal/model"
)

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// printExpense writes one expense with its plan and history.
func printExpense(w io.Writer, e *model.Expense) error {
	if jsonOutput {
		return printJSON(w, e)
	}

	fmt.Fprintf(w, "Expense:   %s\n", e.ID)
	fmt.Fprintf(w, "Submitter: %s\n", e.SubmitterID)
	fmt.Fprintf(w, "Amount:    %s %s", e.Amount.String(), e.Currency)
	if e.Currency != e.BaseCurrency {
		if e.Unconverted {
			fmt.Fprintf(w, " (no rate for %s)", e.BaseCurrency)
		} else {
			fmt.Fprintf(w, " (%s %s)", e.ConvertedAmount.StringFixed(2), e.BaseCurrency)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Category:  %s\n", e.Category)
	fmt.Fprintf(w, "Date:      %s\n", e.Date.Format("2006-01-02"))
	if e.Description != "" {
		fmt.Fprintf(w, "About:     %s\n", e.Description)
	}
	fmt.Fprintf(w, "Status:    %s\n", strings.ToUpper(string(e.Status)))

	if e.Plan != nil {
		fmt.Fprintf(w, "Rule:      %s (%s)\n", e.Plan.RuleName, e.Plan.Resolution.Type)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for i, s := range e.Plan.Slots {
			marker := " "
			if e.CurrentSlot != nil && *e.CurrentSlot == i {
				marker = ">"
			}
			req := "optional"
			if s.Required {
				req = "required"
			}
			who := s.Approver
			if s.UserID != "" && s.UserID != s.Approver {
				who += " = " + s.UserID
			}
			decision := "-"
			if s.Decided() {
				decision = string(s.Decision) + " by " + s.DecidedBy
			}
			fmt.Fprintf(tw, "  %s %d.\t%s\t%s\t%s\n", marker, s.Order, who, req, decision)
		}
		tw.Flush()
	}

	if len(e.ApprovalHistory) > 0 {
		fmt.Fprintln(w, "History:")
		for _, h := range e.ApprovalHistory {
			line := fmt.Sprintf("  %s  %-9s %s", h.Timestamp.Format("2006-01-02 15:04"), h.Decision, h.ApproverID)
			if h.Override {
				line += " (override)"
			}
			if h.Comments != "" {
				line += ": " + h.Comments
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

// printExpenses writes a compact table.
func printExpenses(w io.Writer, list []*model.Expense) error {
	if jsonOutput {
		if list == nil {
			list = []*model.Expense{}
		}
		return printJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No expenses.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tSUBMITTER\tAMOUNT\tCATEGORY\tSTATUS\tRULE")
	for _, e := range list {
		rule := ""
		if e.Plan != nil {
			rule = e.Plan.RuleName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%s\t%s\n",
			e.ID, e.Date.Format("2006-01-02"), e.SubmitterID,
			e.Amount.String(), e.Currency, e.Category, e.Status, rule)
	}
	return tw.Flush()
}
