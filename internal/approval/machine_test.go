package approval

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/spendgate/internal/directory"
	"github.com/ppiankov/spendgate/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testDirectory() *directory.Static {
	return directory.NewStatic([]directory.User{
		{ID: "admin", Roles: []string{"admin"}},
		{ID: "dir", Roles: []string{"director"}},
		{ID: "mgr", Roles: []string{"manager"}, Manager: "dir"},
		{ID: "mgr2", Roles: []string{"manager"}, Manager: "dir"},
		{ID: "fin", Roles: []string{"finance"}, Manager: "dir"},
		{ID: "fin2", Roles: []string{"finance"}, Manager: "dir"},
		{ID: "emp", Roles: []string{"employee"}, Manager: "mgr"},
	}, nil)
}

func pct(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func newExpense(plan *model.Plan) *model.Expense {
	e := &model.Expense{
		ID:          "exp-1",
		SubmitterID: "emp",
		Amount:      decimal.NewFromInt(150),
		Currency:    "USD",
		CreatedAt:   t0,
	}
	Start(e, plan)
	return e
}

func sequentialPlan() *model.Plan {
	return &model.Plan{
		RuleName:   "Standard Approval",
		Resolution: model.ResolutionSpec{Type: model.ResolutionSequential},
		Slots: []model.Slot{
			{Order: 1, Approver: "role:manager", Role: "manager", UserID: "mgr", Required: true},
			{Order: 2, Approver: "role:finance", Role: "finance", UserID: "fin", Required: true},
		},
	}
}

func percentagePlan(threshold int64) *model.Plan {
	return &model.Plan{
		RuleName:   "High Value Approval",
		Resolution: model.ResolutionSpec{Type: model.ResolutionPercentage, Threshold: pct(threshold)},
		Slots: []model.Slot{
			{Order: 1, Approver: "role:manager", Role: "manager", UserID: "mgr", Required: true},
			{Order: 2, Approver: "role:finance", Role: "finance", UserID: "fin", Required: true},
			{Order: 3, Approver: "role:director", Role: "director", UserID: "dir", Required: true},
		},
	}
}

func decide(t *testing.T, e *model.Expense, who string, d model.Decision) *model.Expense {
	t.Helper()
	out, err := Decide(e, who, d, "", testDirectory(), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Decide(%s, %s): %v", who, d, err)
	}
	return out
}

func TestStartSetsCurrentSlot(t *testing.T) {
	e := newExpense(sequentialPlan())
	if e.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", e.Status)
	}
	if e.CurrentSlot == nil || *e.CurrentSlot != 1 {
		t.Fatalf("expected current slot 1, got %v", e.CurrentSlot)
	}
}

func TestSequentialManagerThenFinance(t *testing.T) {
	e := newExpense(sequentialPlan())

	if _, err := Decide(e, "fin", model.Approve, "", testDirectory(), t0); !errors.Is(err, model.ErrNotAuthorizedApprover) {
		t.Fatalf("finance before manager: expected NotAuthorizedApprover, got %v", err)
	}

	e = decide(t, e, "mgr", model.Approve)
	if e.Status != model.StatusPending || *e.CurrentSlot != 2 {
		t.Fatalf("expected pending at slot 2, got %s %v", e.Status, e.CurrentSlot)
	}

	e = decide(t, e, "fin", model.Approve)
	if e.Status != model.StatusApproved {
		t.Fatalf("expected approved, got %s", e.Status)
	}
	if len(e.ApprovalHistory) != 2 {
		t.Fatalf("expected 2 history steps, got %d", len(e.ApprovalHistory))
	}
	if e.Plan != nil || e.CurrentSlot != nil || e.ResolvedAt == nil {
		t.Error("terminal expense must drop plan and current slot and set resolvedAt")
	}
}

func TestSequentialRejectThenNotPending(t *testing.T) {
	e := newExpense(sequentialPlan())
	e = decide(t, e, "mgr", model.Reject)
	if e.Status != model.StatusRejected {
		t.Fatalf("expected rejected, got %s", e.Status)
	}
	_, err := Decide(e, "fin", model.Approve, "", testDirectory(), t0)
	if !errors.Is(err, model.ErrNotPending) {
		t.Fatalf("expected NotPending, got %v", err)
	}
	if len(e.ApprovalHistory) != 1 {
		t.Errorf("history must not change on failed decide, got %d", len(e.ApprovalHistory))
	}
}

func TestPercentageSixtyOfThree(t *testing.T) {
	e := newExpense(percentagePlan(60))

	e = decide(t, e, "dir", model.Approve)
	if e.Status != model.StatusPending {
		t.Fatalf("1/3 must stay pending, got %s", e.Status)
	}
	e = decide(t, e, "mgr", model.Approve)
	if e.Status != model.StatusApproved {
		t.Fatalf("2/3 >= 60%% must approve, got %s", e.Status)
	}
}

func TestPercentageResolvesExactlyAtCeil(t *testing.T) {
	tests := []struct {
		threshold int64
		want      int
	}{
		{1, 1}, {33, 1}, {34, 2}, {60, 2}, {66, 2}, {67, 3}, {100, 3},
	}
	approvers := []string{"mgr", "fin", "dir"}
	for _, tt := range tests {
		e := newExpense(percentagePlan(tt.threshold))
		got := 0
		for _, who := range approvers {
			e = decide(t, e, who, model.Approve)
			got++
			if e.Status == model.StatusApproved {
				break
			}
		}
		if got != tt.want {
			t.Errorf("threshold %d: approved after %d, want %d", tt.threshold, got, tt.want)
		}
	}
}

func TestPercentageRejectTerminates(t *testing.T) {
	e := newExpense(percentagePlan(60))
	e = decide(t, e, "mgr", model.Approve)
	e = decide(t, e, "fin", model.Reject)
	if e.Status != model.StatusRejected {
		t.Fatalf("expected rejected, got %s", e.Status)
	}
}

func TestSpecificApproverResolvesImmediately(t *testing.T) {
	plan := sequentialPlan()
	plan.Slots = append(plan.Slots, model.Slot{Order: 3, Approver: "dir", UserID: "dir", Required: true})
	plan.Resolution = model.ResolutionSpec{Type: model.ResolutionSpecific, Approver: "dir"}
	e := newExpense(plan)

	e = decide(t, e, "dir", model.Approve)
	if e.Status != model.StatusApproved {
		t.Fatalf("expected approved after designated approver, got %s", e.Status)
	}
	if len(e.ApprovalHistory) != 1 {
		t.Errorf("expected a single step, got %d", len(e.ApprovalHistory))
	}
}

func TestSpecificProgressionWithoutDesignated(t *testing.T) {
	plan := sequentialPlan()
	plan.Slots = append(plan.Slots, model.Slot{Order: 3, Approver: "dir", UserID: "dir", Required: true})
	plan.Resolution = model.ResolutionSpec{Type: model.ResolutionSpecific, Approver: "dir"}
	e := newExpense(plan)

	e = decide(t, e, "fin", model.Approve)
	e = decide(t, e, "mgr", model.Approve)
	if e.Status != model.StatusPending {
		t.Fatalf("expected pending until every required slot approves, got %s", e.Status)
	}
}

func TestHybridEitherPath(t *testing.T) {
	plan := percentagePlan(100)
	plan.Resolution = model.ResolutionSpec{Type: model.ResolutionHybrid, Threshold: pct(60), Approver: "role:director"}

	e := newExpense(plan.Clone())
	e = decide(t, e, "dir", model.Approve)
	if e.Status != model.StatusApproved {
		t.Fatalf("designated approver should approve, got %s", e.Status)
	}

	e = newExpense(plan.Clone())
	e = decide(t, e, "mgr", model.Approve)
	e = decide(t, e, "fin", model.Approve)
	if e.Status != model.StatusApproved {
		t.Fatalf("percentage should approve, got %s", e.Status)
	}
}

func TestRoleSlotAcceptsAnyHolder(t *testing.T) {
	plan := sequentialPlan()
	plan.Slots[1].UserID = ""
	e := newExpense(plan)
	e = decide(t, e, "mgr", model.Approve)
	e = decide(t, e, "fin2", model.Approve)
	if e.Status != model.StatusApproved {
		t.Fatalf("expected any finance holder to approve, got %s", e.Status)
	}
}

func TestResolvedManagerSlotIsPersonal(t *testing.T) {
	e := newExpense(sequentialPlan())
	if _, err := Decide(e, "mgr2", model.Approve, "", testDirectory(), t0); !errors.Is(err, model.ErrNotAuthorizedApprover) {
		t.Fatalf("expected another manager to be refused, got %v", err)
	}
}

func TestSubmitterCannotDecide(t *testing.T) {
	plan := sequentialPlan()
	plan.Slots[0].UserID = "emp"
	e := newExpense(plan)
	if _, err := Decide(e, "emp", model.Approve, "", testDirectory(), t0); !errors.Is(err, model.ErrNotAuthorizedApprover) {
		t.Fatalf("expected NotAuthorizedApprover, got %v", err)
	}
}

func TestApproverCannotFillTwoSlots(t *testing.T) {
	plan := sequentialPlan()
	plan.Slots[1].UserID = "mgr"
	plan.Slots[1].Role = ""
	e := newExpense(plan)
	e = decide(t, e, "mgr", model.Approve)
	if _, err := Decide(e, "mgr", model.Approve, "", testDirectory(), t0); !errors.Is(err, model.ErrNotAuthorizedApprover) {
		t.Fatalf("expected second decision to be refused, got %v", err)
	}
}

func TestOptionalSlotIsAdvisory(t *testing.T) {
	plan := sequentialPlan()
	plan.Slots = append(plan.Slots, model.Slot{Order: 3, Approver: "dir", UserID: "dir", Required: false})
	e := newExpense(plan)

	e = decide(t, e, "dir", model.Reject)
	if e.Status != model.StatusPending {
		t.Fatalf("optional rejection must not terminate, got %s", e.Status)
	}
	if len(e.ApprovalHistory) != 1 {
		t.Fatalf("optional decision still recorded, got %d steps", len(e.ApprovalHistory))
	}
	e = decide(t, e, "mgr", model.Approve)
	e = decide(t, e, "fin", model.Approve)
	if e.Status != model.StatusApproved {
		t.Fatalf("expected approved, got %s", e.Status)
	}
}

func TestDecideLeavesInputUntouched(t *testing.T) {
	e := newExpense(sequentialPlan())
	_ = decide(t, e, "mgr", model.Approve)
	if len(e.ApprovalHistory) != 0 || e.Plan.Slots[0].Decided() {
		t.Fatal("Decide mutated its input")
	}
}

func TestHistoryNeverShrinks(t *testing.T) {
	e := newExpense(percentagePlan(100))
	prev := 0
	for _, who := range []string{"mgr", "fin", "dir"} {
		e = decide(t, e, who, model.Approve)
		if len(e.ApprovalHistory) < prev {
			t.Fatal("history shrank")
		}
		prev = len(e.ApprovalHistory)
	}
}

func TestEscalate(t *testing.T) {
	e := newExpense(sequentialPlan())
	esc, err := Escalate(e, t0)
	if err != nil {
		t.Fatal(err)
	}
	if esc.Status != model.StatusEscalated {
		t.Fatalf("expected escalated, got %s", esc.Status)
	}
	if _, err := Escalate(esc, t0); !errors.Is(err, model.ErrNotPending) {
		t.Errorf("double escalation: expected NotPending, got %v", err)
	}

	esc = decide(t, esc, "mgr", model.Approve)
	esc = decide(t, esc, "fin", model.Approve)
	if esc.Status != model.StatusApproved {
		t.Fatalf("escalated expense should still resolve, got %s", esc.Status)
	}
}

func TestOverdue(t *testing.T) {
	plan := sequentialPlan()
	plan.EscalateAfter = 24 * time.Hour
	e := newExpense(plan)
	if Overdue(e, t0.Add(23*time.Hour)) {
		t.Error("not overdue yet")
	}
	if !Overdue(e, t0.Add(25*time.Hour)) {
		t.Error("expected overdue")
	}
	e = decide(t, e, "mgr", model.Approve)
	if Overdue(e, t0.Add(24*time.Hour+30*time.Minute)) {
		t.Error("a recent decision resets the clock")
	}
}

func TestOverride(t *testing.T) {
	e := newExpense(sequentialPlan())
	if _, err := Override(e, "mgr", model.Approve, "", testDirectory(), t0); !errors.Is(err, model.ErrNotAuthorizedApprover) {
		t.Fatalf("expected non-admin override to fail, got %v", err)
	}
	out, err := Override(e, "admin", model.Approve, "urgent", testDirectory(), t0)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != model.StatusApproved {
		t.Fatalf("expected approved, got %s", out.Status)
	}
	last := out.ApprovalHistory[len(out.ApprovalHistory)-1]
	if !last.Override || last.ApproverID != "admin" {
		t.Errorf("expected override step, got %+v", last)
	}
	if _, err := Override(out, "admin", model.Reject, "", testDirectory(), t0); !errors.Is(err, model.ErrNotPending) {
		t.Errorf("expected NotPending after terminal, got %v", err)
	}

	own := newExpense(sequentialPlan())
	own.SubmitterID = "admin"
	if _, err := Override(own, "admin", model.Approve, "", testDirectory(), t0); !errors.Is(err, model.ErrNotAuthorizedApprover) {
		t.Errorf("expected admin override of own expense to fail, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	e := &model.Expense{ID: "x", SubmitterID: "emp"}
	out, err := Resolve(e, model.StatusApproved, "no approver available", t0)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != model.StatusApproved || out.ApprovalHistory[0].ApproverID != SystemActor {
		t.Errorf("unexpected %+v", out)
	}
	if _, err := Resolve(e, model.StatusPending, "", t0); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected Validation, got %v", err)
	}
}

func TestCanDecide(t *testing.T) {
	e := newExpense(sequentialPlan())
	dir := testDirectory()
	if !CanDecide(e, "mgr", dir) {
		t.Error("manager should be able to decide")
	}
	if CanDecide(e, "fin", dir) {
		t.Error("finance must wait for manager")
	}
}
