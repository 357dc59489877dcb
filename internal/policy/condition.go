package policy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/spendgate/internal/currency"
	"github.com/ppiankov/spendgate/internal/model"
)

// ConditionSpec is the serialized form of a rule trigger.
type ConditionSpec struct {
	Field    string   `yaml:"field" json:"field"`
	Operator string   `yaml:"operator" json:"operator"`
	Value    string   `yaml:"value,omitempty" json:"value,omitempty"`
	Values   []string `yaml:"values,omitempty" json:"values,omitempty"`
	Currency string   `yaml:"currency,omitempty" json:"currency,omitempty"`
}

// Env carries what conditions need besides the expense itself.
type Env struct {
	Normalizer currency.Normalizer
	Rates      currency.Table
}

// Condition is a compiled trigger. The variant set is closed:
// AmountCondition, CategoryCondition, SubmitterCondition, DescriptionCondition.
type Condition interface {
	Match(e *model.Expense, env Env) bool
	isCondition()
}

// CompareOp is a numeric comparison operator.
type CompareOp string

const (
	OpGT CompareOp = ">"
	OpGE CompareOp = ">="
	OpLT CompareOp = "<"
	OpLE CompareOp = "<="
	OpEQ CompareOp = "=="
	OpNE CompareOp = "!="
)

// AmountCondition compares the expense amount against Value.
// An empty Currency means the base currency.
type AmountCondition struct {
	Op       CompareOp
	Value    decimal.Decimal
	Currency string
}

// CategoryCondition checks category membership, case-insensitively.
type CategoryCondition struct {
	Negate bool
	Values []string
}

// SubmitterCondition checks submitter membership.
type SubmitterCondition struct {
	Negate bool
	Values []string
}

// DescriptionCondition matches a case-insensitive substring.
type DescriptionCondition struct {
	Contains string
}

func (AmountCondition) isCondition()      {}
func (CategoryCondition) isCondition()    {}
func (SubmitterCondition) isCondition()   {}
func (DescriptionCondition) isCondition() {}

// Match compares against convertedAmount when the condition is in base currency,
// against the original amount when it names the expense currency, and otherwise
// converts the threshold into base. A missing rate means no match.
func (c AmountCondition) Match(e *model.Expense, env Env) bool {
	cur := currency.Normalize(c.Currency)
	base := currency.Normalize(env.Normalizer.Base)

	var amount, threshold decimal.Decimal
	switch {
	case cur == "" || cur == base:
		amount, threshold = e.ConvertedAmount, c.Value
	case cur == currency.Normalize(e.Currency):
		amount, threshold = e.Amount, c.Value
	default:
		t, ok := env.Normalizer.ToBase(c.Value, cur, env.Rates)
		if !ok {
			return false
		}
		amount, threshold = e.ConvertedAmount, t
	}

	cmp := amount.Cmp(threshold)
	switch c.Op {
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpEQ:
		return cmp == 0
	case OpNE:
		return cmp != 0
	default:
		return false
	}
}

func (c CategoryCondition) Match(e *model.Expense, env Env) bool {
	return containsFold(c.Values, e.Category) != c.Negate
}

func (c SubmitterCondition) Match(e *model.Expense, env Env) bool {
	for _, v := range c.Values {
		if v == e.SubmitterID {
			return !c.Negate
		}
	}
	return c.Negate
}

func (c DescriptionCondition) Match(e *model.Expense, env Env) bool {
	return strings.Contains(strings.ToLower(e.Description), strings.ToLower(c.Contains))
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Compile turns s into its Condition variant.
func (s ConditionSpec) Compile() (Condition, error) {
	switch strings.ToLower(s.Field) {
	case "amount":
		op := CompareOp(s.Operator)
		switch op {
		case OpGT, OpGE, OpLT, OpLE, OpEQ, OpNE:
		default:
			return nil, fmt.Errorf("amount operator %q is not one of > >= < <= == !=", s.Operator)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(s.Value))
		if err != nil {
			return nil, fmt.Errorf("amount value %q is not a decimal", s.Value)
		}
		if s.Currency != "" && !currency.ValidCode(currency.Normalize(s.Currency)) {
			return nil, fmt.Errorf("amount currency %q is not an ISO code", s.Currency)
		}
		return AmountCondition{Op: op, Value: v, Currency: currency.Normalize(s.Currency)}, nil

	case "category", "submitter":
		negate, err := membershipOp(s.Operator)
		if err != nil {
			return nil, fmt.Errorf("%s %w", s.Field, err)
		}
		values := s.Values
		if len(values) == 0 && s.Value != "" {
			values = []string{s.Value}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%s condition needs at least one value", s.Field)
		}
		if strings.EqualFold(s.Field, "category") {
			return CategoryCondition{Negate: negate, Values: values}, nil
		}
		return SubmitterCondition{Negate: negate, Values: values}, nil

	case "description":
		if s.Operator != "contains" {
			return nil, fmt.Errorf("description operator %q is not contains", s.Operator)
		}
		if s.Value == "" {
			return nil, fmt.Errorf("description condition needs a value")
		}
		return DescriptionCondition{Contains: s.Value}, nil

	default:
		return nil, fmt.Errorf("unknown condition field %q", s.Field)
	}
}

func membershipOp(op string) (bool, error) {
	switch op {
	case "in", "==", "":
		return false, nil
	case "not_in", "!=":
		return true, nil
	default:
		return false, fmt.Errorf("operator %q is not in or not_in", op)
	}
}
