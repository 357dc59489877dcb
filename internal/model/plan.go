package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ResolutionKind discriminates the Resolution variants.
type ResolutionKind string

const (
	ResolutionSequential ResolutionKind = "sequential"
	ResolutionPercentage ResolutionKind = "percentage"
	ResolutionSpecific   ResolutionKind = "specific"
	ResolutionHybrid     ResolutionKind = "hybrid"
)

// Resolution decides when a plan reaches a terminal outcome.
// The variant set is closed: Sequential, Percentage, SpecificApprover, Hybrid.
type Resolution interface {
	Kind() ResolutionKind
	isResolution()
}

// Sequential requires every required approver, in order.
type Sequential struct{}

// Percentage resolves approved once Threshold percent of required slots approve.
type Percentage struct {
	Threshold decimal.Decimal
}

// SpecificApprover resolves approved the moment Approver approves.
type SpecificApprover struct {
	Approver string
}

// Hybrid resolves approved when either the percentage is reached or Approver approves.
type Hybrid struct {
	Threshold decimal.Decimal
	Approver  string
}

func (Sequential) Kind() ResolutionKind       { return ResolutionSequential }
func (Percentage) Kind() ResolutionKind       { return ResolutionPercentage }
func (SpecificApprover) Kind() ResolutionKind { return ResolutionSpecific }
func (Hybrid) Kind() ResolutionKind           { return ResolutionHybrid }

func (Sequential) isResolution()       {}
func (Percentage) isResolution()       {}
func (SpecificApprover) isResolution() {}
func (Hybrid) isResolution()           {}

// ResolutionSpec is the serialized form of a Resolution.
type ResolutionSpec struct {
	Type      ResolutionKind   `yaml:"type" json:"type"`
	Threshold *decimal.Decimal `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Approver  string           `yaml:"approver,omitempty" json:"approver,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// Resolution decodes s into its variant, checking per-variant fields.
func (s ResolutionSpec) Resolution() (Resolution, error) {
	switch s.Type {
	case ResolutionSequential, "":
		return Sequential{}, nil
	case ResolutionPercentage:
		t, err := checkThreshold(s.Threshold)
		if err != nil {
			return nil, err
		}
		return Percentage{Threshold: t}, nil
	case ResolutionSpecific:
		if strings.TrimSpace(s.Approver) == "" {
			return nil, fmt.Errorf("specific resolution requires an approver")
		}
		return SpecificApprover{Approver: s.Approver}, nil
	case ResolutionHybrid:
		t, err := checkThreshold(s.Threshold)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(s.Approver) == "" {
			return nil, fmt.Errorf("hybrid resolution requires an approver")
		}
		return Hybrid{Threshold: t, Approver: s.Approver}, nil
	default:
		return nil, fmt.Errorf("unknown resolution type %q", s.Type)
	}
}

func checkThreshold(t *decimal.Decimal) (decimal.Decimal, error) {
	if t == nil {
		return decimal.Zero, fmt.Errorf("threshold is required")
	}
	if !t.IsPositive() || t.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("threshold %s must be in (0,100]", t.String())
	}
	return *t, nil
}

// SpecOf encodes a Resolution variant.
func SpecOf(r Resolution) ResolutionSpec {
	switch v := r.(type) {
	case Percentage:
		t := v.Threshold
		return ResolutionSpec{Type: ResolutionPercentage, Threshold: &t}
	case SpecificApprover:
		return ResolutionSpec{Type: ResolutionSpecific, Approver: v.Approver}
	case Hybrid:
		t := v.Threshold
		return ResolutionSpec{Type: ResolutionHybrid, Threshold: &t, Approver: v.Approver}
	default:
		return ResolutionSpec{Type: ResolutionSequential}
	}
}

// RolePrefix marks an approver reference that names a role instead of a user.
const RolePrefix = "role:"

// RoleOf returns the role named by ref, or "" if ref is a user id.
func RoleOf(ref string) string {
	if strings.HasPrefix(ref, RolePrefix) {
		return strings.TrimPrefix(ref, RolePrefix)
	}
	return ""
}

// Slot is one approver position in a plan.
type Slot struct {
	Order     int        `json:"order"`
	Approver  string     `json:"approver"`
	Role      string     `json:"role,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	Required  bool       `json:"required"`
	Decision  Decision   `json:"decision,omitempty"`
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// Decided reports whether the slot has recorded a decision.
func (s Slot) Decided() bool { return s.Decision != "" }

// Plan is the expense-specific instantiation of a rule's approver sequence.
type Plan struct {
	RuleID        string         `json:"rule_id,omitempty"`
	RuleName      string         `json:"rule_name"`
	Resolution    ResolutionSpec `json:"resolution"`
	Slots         []Slot         `json:"slots"`
	ApprovedCount int            `json:"approved_count"`
	EscalateAfter time.Duration  `json:"escalate_after,omitempty"`
	Fallback      bool           `json:"fallback,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	if p.Resolution.Threshold != nil {
		t := *p.Resolution.Threshold
		c.Resolution.Threshold = &t
	}
	if p.Slots != nil {
		c.Slots = make([]Slot, len(p.Slots))
		copy(c.Slots, p.Slots)
		for i := range c.Slots {
			if p.Slots[i].DecidedAt != nil {
				t := *p.Slots[i].DecidedAt
				c.Slots[i].DecidedAt = &t
			}
		}
	}
	return &c
}

// RequiredCount returns the number of required slots.
func (p *Plan) RequiredCount() int {
	n := 0
	for _, s := range p.Slots {
		if s.Required {
			n++
		}
	}
	return n
}

// NextRequired returns the index of the lowest-order undecided required slot, or -1.
func (p *Plan) NextRequired() int {
	for i, s := range p.Slots {
		if s.Required && !s.Decided() {
			return i
		}
	}
	return -1
}
