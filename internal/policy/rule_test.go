package policy

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ppiankov/spendgate/internal/model"
)

func validRule(id string) Rule {
	return Rule{
		ID:     id,
		Name:   "Rule " + id,
		Active: true,
		Conditions: []ConditionSpec{
			{Field: "amount", Operator: ">", Value: "100"},
		},
		Approvers: []ApproverRef{
			{Approver: "role:manager", Order: 1, Required: true},
			{Approver: "u-fin", Order: 2, Required: true},
		},
	}
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	r := Rule{
		Conditions: []ConditionSpec{{Field: "weight", Operator: ">", Value: "1"}},
		Approvers: []ApproverRef{
			{Approver: "a", Order: 1},
			{Approver: "b", Order: 1},
			{Approver: "", Order: 3},
		},
		Resolution:    model.ResolutionSpec{Type: "quorum"},
		EscalateAfter: "soon",
	}

	_, err := r.Validate()
	if !errors.Is(err, model.ErrInvalidRule) {
		t.Fatalf("expected InvalidRule, got %v", err)
	}
	var v Violations
	if !errors.As(err, &v) {
		t.Fatalf("expected Violations in chain, got %T", err)
	}
	// id, name, condition, duplicate order, empty ref, none required,
	// contiguity, resolution, escalate_after
	if len(v) != 9 {
		t.Errorf("expected 9 violations, got %d: %v", len(v), v)
	}
}

func TestValidateRejectsEmptyApprovers(t *testing.T) {
	r := validRule("x")
	r.Approvers = nil
	if _, err := r.Validate(); !errors.Is(err, model.ErrInvalidRule) {
		t.Fatalf("expected InvalidRule, got %v", err)
	}
}

func TestValidateRejectsDuplicateApprover(t *testing.T) {
	r := validRule("dup")
	r.Approvers = []ApproverRef{
		{Approver: "alice", Order: 1, Required: true},
		{Approver: "alice", Order: 2, Required: true},
	}
	_, err := r.Validate()
	var v Violations
	if !errors.As(err, &v) || len(v) != 1 {
		t.Fatalf("expected one violation, got %v", err)
	}
}

func TestValidateThresholdBounds(t *testing.T) {
	for _, v := range []int64{0, -5, 101} {
		r := validRule("p")
		r.Resolution = model.ResolutionSpec{Type: model.ResolutionPercentage, Threshold: threshold(v)}
		if _, err := r.Validate(); err == nil {
			t.Errorf("threshold %d should be rejected", v)
		}
	}
	r := validRule("p")
	r.Resolution = model.ResolutionSpec{Type: model.ResolutionPercentage, Threshold: threshold(100)}
	if _, err := r.Validate(); err != nil {
		t.Errorf("threshold 100 should be accepted: %v", err)
	}
}

func TestValidateDesignatedApproverInSequence(t *testing.T) {
	r := validRule("s")
	r.Resolution = model.ResolutionSpec{Type: model.ResolutionSpecific, Approver: "u-ceo"}
	if _, err := r.Validate(); err == nil {
		t.Fatal("expected approver outside the sequence to be rejected")
	}
	r.Resolution.Approver = "u-fin"
	if _, err := r.Validate(); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}
}

func TestValidateSortsApprovers(t *testing.T) {
	r := validRule("o")
	r.Approvers[0], r.Approvers[1] = r.Approvers[1], r.Approvers[0]
	v, err := r.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if v.Approvers[0].Order != 1 {
		t.Errorf("expected approvers sorted by order, got %+v", v.Approvers)
	}
}

func TestRuleJSONDefaults(t *testing.T) {
	var r Rule
	data := `{"id":"j","name":"J","approvers":[{"approver":"u1","order":1}]}`
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		t.Fatal(err)
	}
	if !r.Active || !r.Approvers[0].Required {
		t.Errorf("expected active and required defaults, got %+v", r)
	}
}

func TestRuleSetOperations(t *testing.T) {
	rs, err := NewRuleSet(validRule("a"), validRule("b"))
	if err != nil {
		t.Fatal(err)
	}

	if err := rs.AddRule(validRule("a")); !errors.Is(err, model.ErrInvalidRule) {
		t.Errorf("duplicate add: expected InvalidRule, got %v", err)
	}
	if err := rs.UpdateRule(validRule("zzz")); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("update missing: expected NotFound, got %v", err)
	}

	bad := validRule("a")
	bad.Approvers = nil
	if err := rs.UpdateRule(bad); err == nil {
		t.Error("expected invalid update to fail")
	}
	if got, _ := rs.Get("a"); len(got.Approvers) != 2 {
		t.Error("rejected update must not be stored")
	}

	if err := rs.SetActive("a", false); err != nil {
		t.Fatal(err)
	}
	if got, _ := rs.Get("a"); got.Active {
		t.Error("expected rule a inactive")
	}

	if err := rs.RemoveRule("a"); err != nil {
		t.Fatal(err)
	}
	rules := rs.Rules()
	if len(rules) != 1 || rules[0].ID != "b" {
		t.Errorf("expected only b left, got %v", rules)
	}
	if err := rs.RemoveRule("a"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestRuleSetConcurrentAccess(t *testing.T) {
	rs, _ := NewRuleSet(validRule("base"))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = rs.SetActive("base", true)
		}()
		go func() {
			defer wg.Done()
			_ = rs.Rules()
		}()
	}
	wg.Wait()
	if len(rs.Rules()) != 1 {
		t.Fatal("expected one rule")
	}
}

func TestConditionCompileErrors(t *testing.T) {
	tests := []ConditionSpec{
		{Field: "amount", Operator: "~", Value: "1"},
		{Field: "amount", Operator: ">", Value: "ten"},
		{Field: "amount", Operator: ">", Value: "1", Currency: "euro"},
		{Field: "category", Operator: "like", Values: []string{"x"}},
		{Field: "category", Operator: "in"},
		{Field: "description", Operator: "==", Value: "x"},
		{Field: "color", Operator: "in", Value: "red"},
	}
	for _, cs := range tests {
		if _, err := cs.Compile(); err == nil {
			t.Errorf("expected %+v to fail", cs)
		}
	}
}
