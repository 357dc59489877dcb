package server

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/workflow"
)

// SubmitRequest is the Submit message. Amount is a decimal string, Date is
// YYYY-MM-DD or RFC 3339.
type SubmitRequest struct {
	SubmitterID string `json:"submitter_id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Category    string `json:"category"`
	Date        string `json:"date,omitempty"`
}

// Parse converts the wire message into a workflow submission.
func (r SubmitRequest) Parse() (workflow.SubmitRequest, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return workflow.SubmitRequest{}, model.Errorf(model.KindValidation, "amount %q is not a decimal", r.Amount)
	}
	date, err := workflow.ParseDate(r.Date)
	if err != nil {
		return workflow.SubmitRequest{}, err
	}
	return workflow.SubmitRequest{
		SubmitterID: r.SubmitterID,
		Description: r.Description,
		Amount:      amount,
		Currency:    r.Currency,
		Category:    r.Category,
		Date:        date,
	}, nil
}

// DecideRequest is the Decide message. Decision is approve or reject.
type DecideRequest struct {
	ExpenseID  string `json:"expense_id"`
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Comments   string `json:"comments,omitempty"`
}

// GetRequest is the Get message.
type GetRequest struct {
	ExpenseID string `json:"expense_id"`
}

// ListRequest is the List message. Empty fields do not filter.
type ListRequest struct {
	Status      string `json:"status,omitempty"`
	SubmitterID string `json:"submitter_id,omitempty"`
	Category    string `json:"category,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// PendingRequest is the Pending message.
type PendingRequest struct {
	ApproverID string `json:"approver_id"`
}

// StatsRequest is the Stats message.
type StatsRequest struct {
	SubmitterID string `json:"submitter_id,omitempty"`
}

// ExpenseList is the List and Pending response.
type ExpenseList struct {
	Expenses []*model.Expense `json:"expenses"`
}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return st, nil
}

// Decode fills v from a Struct through its JSON form.
func Decode(st *structpb.Struct, v any) error {
	if st == nil {
		st = &structpb.Struct{}
	}
	data, err := protojson.Marshal(st)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return model.Errorf(model.KindValidation, "malformed request: %v", err)
	}
	return nil
}
