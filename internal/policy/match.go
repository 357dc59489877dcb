package policy

import (
	"github.com/ppiankov/spendgate/internal/currency"
	"github.com/ppiankov/spendgate/internal/model"
)

// Resolver turns role references into concrete users.
type Resolver interface {
	ManagerOf(userID string) (string, bool)
	UsersWithRole(role string) []string
}

// Matcher selects the governing rule for an expense and builds its plan.
type Matcher struct {
	Normalizer currency.Normalizer
	Directory  Resolver
}

// Match returns the plan of the first active rule whose conditions all hold.
// Returns model.ErrNoRuleMatched when none does.
func (m Matcher) Match(e *model.Expense, rules []Rule, rates currency.Table) (*model.Plan, error) {
	r, ok := m.Find(e, rules, rates)
	if !ok {
		return nil, model.Errorf(model.KindNoRuleMatched, "no active rule matches expense %s", e.ID)
	}
	return m.BuildPlan(e, r), nil
}

// Find returns the first matching active rule.
func (m Matcher) Find(e *model.Expense, rules []Rule, rates currency.Table) (Rule, bool) {
	env := Env{Normalizer: m.Normalizer, Rates: rates}
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if !r.Compiled() {
			v, err := r.Validate()
			if err != nil {
				continue
			}
			r = v
		}
		if matchAll(r.compiled.conditions, e, env) {
			return r, true
		}
	}
	return Rule{}, false
}

func matchAll(conds []Condition, e *model.Expense, env Env) bool {
	for _, c := range conds {
		if !c.Match(e, env) {
			return false
		}
	}
	return true
}

// BuildPlan instantiates r's approver sequence for e.
func (m Matcher) BuildPlan(e *model.Expense, r Rule) *model.Plan {
	p := &model.Plan{
		RuleID:        r.ID,
		RuleName:      r.Name,
		Resolution:    r.Resolution,
		EscalateAfter: r.EscalationDelay(),
	}
	if p.Resolution.Type == "" {
		p.Resolution.Type = model.ResolutionSequential
	}
	taken := make(map[string]bool, len(r.Approvers))
	for _, a := range sortedApprovers(r.Approvers) {
		s := m.slot(e, a.Approver, a.Order, a.Required, taken)
		if s.UserID != "" {
			taken[s.UserID] = true
		}
		p.Slots = append(p.Slots, s)
	}
	return p
}

// FallbackPlan builds the plan used when no rule matched. When the
// unassigned policy resolves the expense outright, the plan is nil and
// the returned status is terminal.
func (m Matcher) FallbackPlan(e *model.Expense, fb Fallback) (*model.Plan, model.Status) {
	if fb.Approver == FallbackManager && m.Directory != nil {
		if mgr, ok := m.Directory.ManagerOf(e.SubmitterID); ok && mgr != e.SubmitterID {
			return &model.Plan{
				RuleName:   "Manager Fallback",
				Resolution: model.ResolutionSpec{Type: model.ResolutionSequential},
				Slots: []model.Slot{{
					Order:    1,
					Approver: model.RolePrefix + "manager",
					Role:     "manager",
					UserID:   mgr,
					Required: true,
				}},
				Fallback: true,
			}, model.StatusPending
		}
	}

	switch fb.Unassigned {
	case UnassignedAutoApprove:
		return nil, model.StatusApproved
	case UnassignedReject:
		return nil, model.StatusRejected
	default:
		return &model.Plan{
			RuleName:   "Admin Fallback",
			Resolution: model.ResolutionSpec{Type: model.ResolutionSequential},
			Slots:      []model.Slot{m.slot(e, model.RolePrefix+"admin", 1, true, nil)},
			Fallback:   true,
		}, model.StatusPending
	}
}

// slot resolves ref for e. Role slots skip the submitter and any user in
// taken, since one user decides at most one slot of a plan.
func (m Matcher) slot(e *model.Expense, ref string, order int, required bool, taken map[string]bool) model.Slot {
	s := model.Slot{Order: order, Approver: ref, Required: required}
	role := model.RoleOf(ref)
	if role == "" {
		s.UserID = ref
		return s
	}
	s.Role = role
	if m.Directory == nil {
		return s
	}
	if role == "manager" {
		if mgr, ok := m.Directory.ManagerOf(e.SubmitterID); ok && mgr != e.SubmitterID && !taken[mgr] {
			s.UserID = mgr
		}
		return s
	}
	for _, id := range m.Directory.UsersWithRole(role) {
		if id != e.SubmitterID && !taken[id] {
			s.UserID = id
			break
		}
	}
	return s
}
