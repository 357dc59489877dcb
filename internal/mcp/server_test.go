package mcp

import (
	"context"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/spendgate/internal/directory"
	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/store"
	"github.com/ppiankov/spendgate/internal/workflow"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	svc, err := workflow.New(workflow.Options{
		Store: store.NewMemory(),
		Directory: directory.NewStatic([]directory.User{
			{ID: "mgr", Roles: []string{"manager"}},
			{ID: "fin", Roles: []string{"finance"}},
			{ID: "emp", Roles: []string{"employee"}, Manager: "mgr"},
		}, nil),
	})
	if err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}
	return New(svc, Config{Version: "test"}, nil)
}

func TestSubmitAndDecide(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, out, err := s.handleSubmit(ctx, &mcpsdk.CallToolRequest{}, SubmitInput{
		SubmitterID: "emp", Description: "Taxi", Amount: "150", Currency: "USD", Category: "Transportation",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatalf("expected success, got %q", out.Error)
	}
	id := out.Expense.ID

	_, pending, err := s.handlePending(ctx, &mcpsdk.CallToolRequest{}, PendingInput{ApproverID: "mgr"})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending.Expenses) != 1 || pending.Expenses[0].Rule != "Standard Approval" {
		t.Fatalf("unexpected pending %+v", pending.Expenses)
	}

	result, out, err = s.handleDecide(ctx, &mcpsdk.CallToolRequest{}, DecideInput{ExpenseID: id, ApproverID: "fin", Decision: "approve"})
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || !result.IsError || out.Kind != string(model.KindNotAuthorizedApprover) {
		t.Fatalf("expected refusal for out-of-turn approver, got %+v", out)
	}

	if _, _, err := s.handleDecide(ctx, &mcpsdk.CallToolRequest{}, DecideInput{ExpenseID: id, ApproverID: "mgr", Decision: "approve"}); err != nil {
		t.Fatal(err)
	}
	_, out, err = s.handleDecide(ctx, &mcpsdk.CallToolRequest{}, DecideInput{ExpenseID: id, ApproverID: "fin", Decision: "approved"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Expense == nil || out.Expense.Status != model.StatusApproved {
		t.Fatalf("expected approved, got %+v", out)
	}

	_, got, err := s.handleGet(ctx, &mcpsdk.CallToolRequest{}, GetInput{ExpenseID: id})
	if err != nil || len(got.Expense.ApprovalHistory) != 2 {
		t.Fatalf("unexpected get %+v %v", got, err)
	}
}

func TestRefusals(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, out, err := s.handleSubmit(ctx, &mcpsdk.CallToolRequest{}, SubmitInput{SubmitterID: "emp", Description: "x", Amount: "lots", Currency: "USD", Category: "Travel"})
	if err != nil || result == nil || !result.IsError || out.Kind != string(model.KindValidation) {
		t.Fatalf("expected validation refusal, got %+v %v", out, err)
	}

	result, out, err = s.handleGet(ctx, &mcpsdk.CallToolRequest{}, GetInput{ExpenseID: "nope"})
	if err != nil || result == nil || !result.IsError || out.Kind != string(model.KindNotFound) {
		t.Fatalf("expected not found refusal, got %+v %v", out, err)
	}

	result, _, err = s.handleDecide(ctx, &mcpsdk.CallToolRequest{}, DecideInput{ExpenseID: "nope", ApproverID: "mgr", Decision: "maybe"})
	if err != nil || result == nil || !result.IsError {
		t.Fatalf("expected refusal for unknown decision, got %v", err)
	}

	result, _, err = s.handlePending(ctx, &mcpsdk.CallToolRequest{}, PendingInput{})
	if err != nil || result == nil || !result.IsError {
		t.Fatalf("expected refusal without approver, got %v", err)
	}
}
