package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/spendgate/internal/model"
)

// ApproverRef is one position in a rule's approver sequence.
// Approver is a user id or "role:<name>".
type ApproverRef struct {
	Approver string `yaml:"approver" json:"approver"`
	Order    int    `yaml:"order" json:"order"`
	Required bool   `yaml:"required" json:"required"`
}

// UnmarshalYAML defaults Required to true.
func (a *ApproverRef) UnmarshalYAML(value *yaml.Node) error {
	type plain ApproverRef
	p := plain{Required: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = ApproverRef(p)
	return nil
}

// UnmarshalJSON defaults Required to true.
func (a *ApproverRef) UnmarshalJSON(data []byte) error {
	type plain ApproverRef
	p := plain{Required: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = ApproverRef(p)
	return nil
}

// Rule is an approval rule. Rules are evaluated in list order; first match wins.
type Rule struct {
	ID            string               `yaml:"id" json:"id"`
	Name          string               `yaml:"name" json:"name"`
	Active        bool                 `yaml:"active" json:"active"`
	Conditions    []ConditionSpec      `yaml:"conditions" json:"conditions"`
	Approvers     []ApproverRef        `yaml:"approvers" json:"approvers"`
	Resolution    model.ResolutionSpec `yaml:"resolution" json:"resolution"`
	EscalateAfter string               `yaml:"escalate_after,omitempty" json:"escalate_after,omitempty"`

	compiled *compiledRule
}

type compiledRule struct {
	conditions []Condition
	resolution model.Resolution
	escalate   time.Duration
}

// UnmarshalYAML defaults Active to true.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	type plain Rule
	p := plain{Active: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// UnmarshalJSON defaults Active to true.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	p := plain{Active: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// Violations lists every problem found in a rule definition.
type Violations []string

func (v Violations) Error() string { return strings.Join(v, "; ") }

// Validate checks the rule and returns a compiled copy.
// Failures are InvalidRule errors wrapping Violations.
func (r Rule) Validate() (Rule, error) {
	var v Violations

	if strings.TrimSpace(r.ID) == "" {
		v = append(v, "id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		v = append(v, "name is required")
	}

	c := &compiledRule{}
	for i, cs := range r.Conditions {
		cond, err := cs.Compile()
		if err != nil {
			v = append(v, fmt.Sprintf("condition %d: %v", i+1, err))
			continue
		}
		c.conditions = append(c.conditions, cond)
	}

	if len(r.Approvers) == 0 {
		v = append(v, "approver sequence must not be empty")
	}
	orders := make([]int, 0, len(r.Approvers))
	seen := make(map[int]bool, len(r.Approvers))
	refs := make(map[string]bool, len(r.Approvers))
	for i, a := range r.Approvers {
		if strings.TrimSpace(a.Approver) == "" {
			v = append(v, fmt.Sprintf("approver %d: reference is empty", i+1))
		}
		if a.Approver == model.RolePrefix {
			v = append(v, fmt.Sprintf("approver %d: role name is empty", i+1))
		}
		if seen[a.Order] {
			v = append(v, fmt.Sprintf("approver order %d is duplicated", a.Order))
		}
		seen[a.Order] = true
		if a.Approver != "" && refs[a.Approver] {
			v = append(v, fmt.Sprintf("approver %q appears more than once", a.Approver))
		}
		refs[a.Approver] = true
		orders = append(orders, a.Order)
	}
	if len(r.Approvers) > 0 && !anyRequired(r.Approvers) {
		v = append(v, "at least one approver must be required")
	}
	sort.Ints(orders)
	for i, o := range orders {
		if o != i+1 {
			v = append(v, fmt.Sprintf("approver orders must be contiguous from 1, got %v", orders))
			break
		}
	}

	res, err := r.Resolution.Resolution()
	if err != nil {
		v = append(v, fmt.Sprintf("resolution: %v", err))
	} else {
		c.resolution = res
		if named := designated(res); named != "" && !r.hasApprover(named) {
			v = append(v, fmt.Sprintf("resolution approver %q is not in the approver sequence", named))
		}
	}

	if r.EscalateAfter != "" {
		d, err := time.ParseDuration(r.EscalateAfter)
		if err != nil || d <= 0 {
			v = append(v, fmt.Sprintf("escalate_after %q is not a positive duration", r.EscalateAfter))
		}
		c.escalate = d
	}

	if len(v) > 0 {
		return Rule{}, &model.Error{
			Kind:   model.KindInvalidRule,
			Reason: fmt.Sprintf("rule %q: %s", r.ID, v.Error()),
			Err:    v,
		}
	}

	out := r
	out.Approvers = sortedApprovers(r.Approvers)
	out.compiled = c
	return out, nil
}

func (r Rule) hasApprover(ref string) bool {
	for _, a := range r.Approvers {
		if a.Approver == ref {
			return true
		}
	}
	return false
}

// designated returns the named approver for specific/hybrid resolutions.
func designated(res model.Resolution) string {
	switch v := res.(type) {
	case model.SpecificApprover:
		return v.Approver
	case model.Hybrid:
		return v.Approver
	case model.Sequential, model.Percentage:
		return ""
	default:
		panic(fmt.Sprintf("policy: unhandled resolution %T", res))
	}
}

func anyRequired(refs []ApproverRef) bool {
	for _, a := range refs {
		if a.Required {
			return true
		}
	}
	return false
}

func sortedApprovers(in []ApproverRef) []ApproverRef {
	out := make([]ApproverRef, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Compiled reports whether the rule has passed Validate.
func (r Rule) Compiled() bool { return r.compiled != nil }

// EscalationDelay returns the parsed escalate_after, or zero.
func (r Rule) EscalationDelay() time.Duration {
	if r.compiled == nil {
		return 0
	}
	return r.compiled.escalate
}
