package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an expense.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEscalated Status = "escalated"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Open reports whether the expense is still awaiting decisions.
// Escalated behaves exactly like pending for decision purposes.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusEscalated
}

// ParseStatus maps a string to a Status. Unknown values return false.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusEscalated, StatusApproved, StatusRejected:
		return Status(s), true
	default:
		return "", false
	}
}

// Decision is an approver's verdict on an expense.
type Decision string

const (
	Approve Decision = "approved"
	Reject  Decision = "rejected"
)

// ParseDecision accepts both verb and past-tense spellings.
func ParseDecision(s string) (Decision, bool) {
	switch s {
	case "approve", "approved":
		return Approve, true
	case "reject", "rejected":
		return Reject, true
	default:
		return "", false
	}
}

// AuditStep is one recorded decision. Steps are appended, never edited.
type AuditStep struct {
	ApproverID string    `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	Comments   string    `json:"comments,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Slot       int       `json:"slot,omitempty"`
	Override   bool      `json:"override,omitempty"`
}

// Expense is a submitted expense and its approval progress.
type Expense struct {
	ID              string          `json:"id"`
	SubmitterID     string          `json:"submitter_id"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	BaseCurrency    string          `json:"base_currency"`
	Unconverted     bool            `json:"unconverted,omitempty"`
	Category        string          `json:"category"`
	Date            time.Time       `json:"date"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ApprovalHistory []AuditStep     `json:"approval_history"`
	CurrentSlot     *int            `json:"current_approver_slot,omitempty"`
	Plan            *Plan           `json:"plan,omitempty"`
	Version         int64           `json:"version"`
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (e *Expense) Clone() *Expense {
	if e == nil {
		return nil
	}
	c := *e
	if e.ApprovalHistory != nil {
		c.ApprovalHistory = make([]AuditStep, len(e.ApprovalHistory))
		copy(c.ApprovalHistory, e.ApprovalHistory)
	}
	if e.CurrentSlot != nil {
		slot := *e.CurrentSlot
		c.CurrentSlot = &slot
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		c.ResolvedAt = &t
	}
	c.Plan = e.Plan.Clone()
	return &c
}

// Touch bumps the modification timestamp.
func (e *Expense) Touch(now time.Time) {
	e.UpdatedAt = now.UTC()
}
