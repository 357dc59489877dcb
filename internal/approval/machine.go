// Package approval is the expense approval state machine.
//
// Every transition works on a clone of the expense. The caller persists the
// returned expense; on error the input is unchanged.
package approval

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/spendgate/internal/directory"
	"github.com/ppiankov/spendgate/internal/model"
)

// SystemActor is the approver id recorded for automatic resolutions.
const SystemActor = "system"

// Authorizer answers the directory questions asked at decision time.
type Authorizer interface {
	HasRole(userID, role string) bool
	Can(userID, permission string) bool
}

// Start installs plan on e and opens it in pending.
func Start(e *model.Expense, plan *model.Plan) {
	e.Plan = plan
	e.Status = model.StatusPending
	e.ResolvedAt = nil
	setCurrent(e)
}

// Resolve closes a freshly submitted expense without any approver, recording
// a system step. Used when the fallback policy approves or rejects outright.
func Resolve(e *model.Expense, status model.Status, comments string, now time.Time) (*model.Expense, error) {
	if !status.Terminal() {
		return nil, model.Errorf(model.KindValidation, "cannot resolve to %s", status)
	}
	if e.Status.Terminal() {
		return nil, model.Errorf(model.KindNotPending, "expense %s is already %s", e.ID, e.Status)
	}
	out := e.Clone()
	out.ApprovalHistory = append(out.ApprovalHistory, model.AuditStep{
		ApproverID: SystemActor,
		Decision:   model.Decision(status),
		Comments:   comments,
		Timestamp:  now.UTC(),
	})
	finish(out, status, now)
	return out, nil
}

// Decide records approverID's decision and advances or terminates the plan.
func Decide(e *model.Expense, approverID string, d model.Decision, comments string, dir Authorizer, now time.Time) (*model.Expense, error) {
	if e.Status.Terminal() {
		return nil, model.Errorf(model.KindNotPending, "expense %s is already %s", e.ID, e.Status)
	}
	if e.Plan == nil {
		return nil, model.Errorf(model.KindNotPending, "expense %s has no active approval plan", e.ID)
	}
	if d != model.Approve && d != model.Reject {
		return nil, model.Errorf(model.KindValidation, "unknown decision %q", d)
	}
	if strings.TrimSpace(approverID) == "" {
		return nil, model.Errorf(model.KindValidation, "approver id is required")
	}
	if approverID == e.SubmitterID {
		return nil, model.Errorf(model.KindNotAuthorizedApprover, "%s cannot decide their own expense", approverID)
	}
	if alreadyDecided(e.Plan, approverID) {
		return nil, model.Errorf(model.KindNotAuthorizedApprover, "%s has already decided expense %s", approverID, e.ID)
	}

	res, err := e.Plan.Resolution.Resolution()
	if err != nil {
		return nil, &model.Error{Kind: model.KindInvalidRule, Reason: "plan resolution", Err: err}
	}

	idx, advisory := pickSlot(e.Plan, res, approverID, dir)
	if idx < 0 {
		return nil, model.Errorf(model.KindNotAuthorizedApprover, "%s is not an approver for expense %s at this stage", approverID, e.ID)
	}

	out := e.Clone()
	p := out.Plan
	at := now.UTC()
	slot := &p.Slots[idx]
	slot.Decision = d
	slot.DecidedBy = approverID
	slot.DecidedAt = &at

	out.ApprovalHistory = append(out.ApprovalHistory, model.AuditStep{
		ApproverID: approverID,
		Decision:   d,
		Comments:   comments,
		Timestamp:  at,
		Slot:       slot.Order,
	})
	out.Touch(now)

	if advisory {
		return out, nil
	}

	if d == model.Reject {
		finish(out, model.StatusRejected, now)
		return out, nil
	}

	p.ApprovedCount++
	if approvedOutcome(p, res, *slot) {
		finish(out, model.StatusApproved, now)
		return out, nil
	}
	setCurrent(out)
	return out, nil
}

// Escalate moves a pending expense to escalated. History is not touched.
func Escalate(e *model.Expense, now time.Time) (*model.Expense, error) {
	if e.Status != model.StatusPending {
		return nil, model.Errorf(model.KindNotPending, "expense %s is %s, only pending expenses escalate", e.ID, e.Status)
	}
	out := e.Clone()
	out.Status = model.StatusEscalated
	out.Touch(now)
	return out, nil
}

// Overdue reports whether e has waited longer than its plan allows.
func Overdue(e *model.Expense, now time.Time) bool {
	if e.Status != model.StatusPending || e.Plan == nil || e.Plan.EscalateAfter <= 0 {
		return false
	}
	since := e.CreatedAt
	if n := len(e.ApprovalHistory); n > 0 {
		since = e.ApprovalHistory[n-1].Timestamp
	}
	return now.Sub(since) >= e.Plan.EscalateAfter
}

// Override forces a terminal outcome. adminID needs the expense:override
// permission and may not be the submitter.
func Override(e *model.Expense, adminID string, d model.Decision, comments string, dir Authorizer, now time.Time) (*model.Expense, error) {
	if e.Status.Terminal() {
		return nil, model.Errorf(model.KindNotPending, "expense %s is already %s", e.ID, e.Status)
	}
	if d != model.Approve && d != model.Reject {
		return nil, model.Errorf(model.KindValidation, "unknown decision %q", d)
	}
	if adminID == e.SubmitterID {
		return nil, model.Errorf(model.KindNotAuthorizedApprover, "%s cannot override their own expense", adminID)
	}
	if dir == nil || !dir.Can(adminID, directory.PermOverride) {
		return nil, model.Errorf(model.KindNotAuthorizedApprover, "%s may not override approvals", adminID)
	}

	out := e.Clone()
	out.ApprovalHistory = append(out.ApprovalHistory, model.AuditStep{
		ApproverID: adminID,
		Decision:   d,
		Comments:   comments,
		Timestamp:  now.UTC(),
		Override:   true,
	})
	finish(out, model.Status(d), now)
	return out, nil
}

// CanDecide reports whether approverID could decide e right now.
func CanDecide(e *model.Expense, approverID string, dir Authorizer) bool {
	if !e.Status.Open() || e.Plan == nil || approverID == e.SubmitterID || alreadyDecided(e.Plan, approverID) {
		return false
	}
	res, err := e.Plan.Resolution.Resolution()
	if err != nil {
		return false
	}
	idx, advisory := pickSlot(e.Plan, res, approverID, dir)
	return idx >= 0 && !advisory
}

// pickSlot returns the slot approverID decides, and whether it is advisory.
func pickSlot(p *model.Plan, res model.Resolution, approverID string, dir Authorizer) (int, bool) {
	switch r := res.(type) {
	case model.Sequential:
		if i := p.NextRequired(); i >= 0 && eligible(p.Slots[i], approverID, dir) {
			return i, false
		}
	case model.Percentage:
		if i := firstRequired(p, approverID, dir); i >= 0 {
			return i, false
		}
	case model.SpecificApprover:
		if i := designatedSlot(p, r.Approver, approverID, dir); i >= 0 {
			return i, false
		}
		if i := firstRequired(p, approverID, dir); i >= 0 {
			return i, false
		}
	case model.Hybrid:
		if i := designatedSlot(p, r.Approver, approverID, dir); i >= 0 {
			return i, false
		}
		if i := firstRequired(p, approverID, dir); i >= 0 {
			return i, false
		}
	}

	for i, s := range p.Slots {
		if !s.Required && eligible(s, approverID, dir) {
			return i, true
		}
	}
	return -1, false
}

func firstRequired(p *model.Plan, approverID string, dir Authorizer) int {
	for i, s := range p.Slots {
		if s.Required && eligible(s, approverID, dir) {
			return i
		}
	}
	return -1
}

func designatedSlot(p *model.Plan, ref, approverID string, dir Authorizer) int {
	for i, s := range p.Slots {
		if s.Approver == ref && eligible(s, approverID, dir) {
			return i
		}
	}
	return -1
}

// eligible reports whether approverID may fill the undecided slot s.
// A resolved manager slot is personal; other role slots accept any holder.
func eligible(s model.Slot, approverID string, dir Authorizer) bool {
	if s.Decided() {
		return false
	}
	if s.UserID != "" && s.UserID == approverID {
		return true
	}
	if s.Role == "" || (s.Role == "manager" && s.UserID != "") {
		return false
	}
	return dir != nil && dir.HasRole(approverID, s.Role)
}

func alreadyDecided(p *model.Plan, approverID string) bool {
	for _, s := range p.Slots {
		if s.DecidedBy == approverID {
			return true
		}
	}
	return false
}

func approvedOutcome(p *model.Plan, res model.Resolution, decided model.Slot) bool {
	switch r := res.(type) {
	case model.Sequential:
		return p.NextRequired() < 0
	case model.Percentage:
		return reached(p, r.Threshold)
	case model.SpecificApprover:
		return decided.Approver == r.Approver || p.NextRequired() < 0
	case model.Hybrid:
		return decided.Approver == r.Approver || reached(p, r.Threshold)
	default:
		return false
	}
}

// reached reports approved*100 >= threshold*required.
func reached(p *model.Plan, threshold decimal.Decimal) bool {
	approved := decimal.NewFromInt(int64(p.ApprovedCount) * 100)
	need := threshold.Mul(decimal.NewFromInt(int64(p.RequiredCount())))
	return approved.GreaterThanOrEqual(need)
}

func setCurrent(e *model.Expense) {
	e.CurrentSlot = nil
	if e.Plan == nil || e.Status.Terminal() {
		return
	}
	if i := e.Plan.NextRequired(); i >= 0 {
		order := e.Plan.Slots[i].Order
		e.CurrentSlot = &order
	}
}

func finish(e *model.Expense, status model.Status, now time.Time) {
	at := now.UTC()
	e.Status = status
	e.Plan = nil
	e.CurrentSlot = nil
	e.ResolvedAt = &at
	e.Touch(now)
}
