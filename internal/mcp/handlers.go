package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/server"
)

// --- Input/Output types ---

// SubmitInput defines parameters for the spendgate_submit tool.
type SubmitInput struct {
	SubmitterID string `json:"submitter_id" jsonschema:"directory id of the employee submitting"`
	Description string `json:"description" jsonschema:"what the expense was for"`
	Amount      string `json:"amount" jsonschema:"decimal amount, e.g. 42.50"`
	Currency    string `json:"currency" jsonschema:"ISO 4217 code, e.g. USD"`
	Category    string `json:"category" jsonschema:"expense category, e.g. Travel"`
	Date        string `json:"date,omitempty" jsonschema:"expense date YYYY-MM-DD, defaults to today"`
}

// DecideInput defines parameters for the spendgate_decide tool.
// ApproverID is asserted by the caller, not authenticated.
type DecideInput struct {
	ExpenseID  string `json:"expense_id" jsonschema:"expense id"`
	ApproverID string `json:"approver_id" jsonschema:"directory id of the approver"`
	Decision   string `json:"decision" jsonschema:"approve or reject"`
	Comments   string `json:"comments,omitempty" jsonschema:"optional comments"`
}

// GetInput defines parameters for the spendgate_get tool.
type GetInput struct {
	ExpenseID string `json:"expense_id" jsonschema:"expense id"`
}

// PendingInput defines parameters for the spendgate_pending tool.
type PendingInput struct {
	ApproverID string `json:"approver_id" jsonschema:"directory id of the approver"`
}

// ExpenseOutput carries one expense, or the reason a call was refused.
type ExpenseOutput struct {
	Expense *model.Expense `json:"expense,omitempty"`
	Error   string         `json:"error,omitempty"`
	Kind    string         `json:"kind,omitempty"`
}

// PendingOutput lists decidable expenses.
type PendingOutput struct {
	Expenses []PendingItem `json:"expenses"`
	Error    string        `json:"error,omitempty"`
}

// PendingItem describes a single expense awaiting the approver.
type PendingItem struct {
	ID          string `json:"id"`
	SubmitterID string `json:"submitter_id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Converted   string `json:"converted"`
	Status      string `json:"status"`
	Rule        string `json:"rule"`
	CreatedAt   string `json:"created_at"`
}

// --- Handlers ---

func (s *Server) handleSubmit(ctx context.Context, req *mcpsdk.CallToolRequest, input SubmitInput) (*mcpsdk.CallToolResult, ExpenseOutput, error) {
	sub, err := server.SubmitRequest{
		SubmitterID: input.SubmitterID,
		Description: input.Description,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Category:    input.Category,
		Date:        input.Date,
	}.Parse()
	if err != nil {
		return s.refused(err)
	}
	e, err := s.svc.Submit(ctx, sub)
	if err != nil {
		return s.refused(err)
	}
	return nil, ExpenseOutput{Expense: e}, nil
}

func (s *Server) handleDecide(ctx context.Context, req *mcpsdk.CallToolRequest, input DecideInput) (*mcpsdk.CallToolResult, ExpenseOutput, error) {
	d, ok := model.ParseDecision(input.Decision)
	if !ok {
		return s.refused(model.Errorf(model.KindValidation, "decision %q is not approve or reject", input.Decision))
	}
	e, err := s.svc.Decide(ctx, input.ExpenseID, input.ApproverID, d, input.Comments)
	if err != nil {
		return s.refused(err)
	}
	return nil, ExpenseOutput{Expense: e}, nil
}

func (s *Server) handleGet(ctx context.Context, req *mcpsdk.CallToolRequest, input GetInput) (*mcpsdk.CallToolResult, ExpenseOutput, error) {
	e, err := s.svc.Get(ctx, input.ExpenseID)
	if err != nil {
		return s.refused(err)
	}
	return nil, ExpenseOutput{Expense: e}, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	if input.ApproverID == "" {
		return &mcpsdk.CallToolResult{IsError: true}, PendingOutput{Expenses: []PendingItem{}, Error: "approver_id is required"}, nil
	}
	list, err := s.svc.PendingFor(ctx, input.ApproverID)
	if err != nil {
		return nil, PendingOutput{}, err
	}

	items := make([]PendingItem, len(list))
	for i, e := range list {
		rule := ""
		if e.Plan != nil {
			rule = e.Plan.RuleName
		}
		items[i] = PendingItem{
			ID:          e.ID,
			SubmitterID: e.SubmitterID,
			Description: e.Description,
			Amount:      e.Amount.String(),
			Currency:    e.Currency,
			Converted:   e.ConvertedAmount.StringFixed(2) + " " + e.BaseCurrency,
			Status:      string(e.Status),
			Rule:        rule,
			CreatedAt:   e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return nil, PendingOutput{Expenses: items}, nil
}

// refused turns a typed workflow error into an IsError tool result.
// Untyped errors (cancellation, storage failures) are returned as-is.
func (s *Server) refused(err error) (*mcpsdk.CallToolResult, ExpenseOutput, error) {
	var me *model.Error
	if !errors.As(err, &me) {
		s.log.Error("mcp tool failed", zap.Error(err))
		return nil, ExpenseOutput{}, err
	}
	return &mcpsdk.CallToolResult{IsError: true}, ExpenseOutput{Error: err.Error(), Kind: string(me.Kind)}, nil
}
