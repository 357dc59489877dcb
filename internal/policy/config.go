package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/spendgate/internal/model"
)

// Fallback approver policies.
const (
	FallbackManager = "manager"
	FallbackNone    = "none"
)

// Unassigned policies, applied when no rule matched and no manager exists.
const (
	UnassignedAdmins      = "admins"
	UnassignedAutoApprove = "auto_approve"
	UnassignedReject      = "reject"
)

// Fallback controls what happens when no rule matches an expense.
type Fallback struct {
	Approver   string `yaml:"approver" json:"approver"`
	Unassigned string `yaml:"unassigned" json:"unassigned"`
}

// Validate checks the fallback values.
func (f Fallback) Validate() error {
	switch f.Approver {
	case FallbackManager, FallbackNone:
	default:
		return fmt.Errorf("fallback.approver %q is not manager or none", f.Approver)
	}
	switch f.Unassigned {
	case UnassignedAdmins, UnassignedAutoApprove, UnassignedReject:
	default:
		return fmt.Errorf("fallback.unassigned %q is not admins, auto_approve or reject", f.Unassigned)
	}
	return nil
}

// PolicyConfig is the on-disk rules document.
type PolicyConfig struct {
	Rules    []Rule   `yaml:"rules"`
	Fallback Fallback `yaml:"fallback"`
}

func threshold(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultRules returns the built-in rules, highest amount first.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:     "high-value",
			Name:   "High Value Approval",
			Active: true,
			Conditions: []ConditionSpec{
				{Field: "amount", Operator: ">", Value: "1000"},
			},
			Approvers: []ApproverRef{
				{Approver: "role:manager", Order: 1, Required: true},
				{Approver: "role:finance", Order: 2, Required: true},
				{Approver: "role:director", Order: 3, Required: true},
			},
			Resolution: model.ResolutionSpec{Type: model.ResolutionPercentage, Threshold: threshold(60)},
		},
		{
			ID:     "standard",
			Name:   "Standard Approval",
			Active: true,
			Conditions: []ConditionSpec{
				{Field: "amount", Operator: ">", Value: "100"},
			},
			Approvers: []ApproverRef{
				{Approver: "role:manager", Order: 1, Required: true},
				{Approver: "role:finance", Order: 2, Required: true},
			},
			Resolution: model.ResolutionSpec{Type: model.ResolutionSequential},
		},
	}
}

// DefaultConfig returns the built-in rules and fallback.
func DefaultConfig() *PolicyConfig {
	return &PolicyConfig{
		Rules: DefaultRules(),
		Fallback: Fallback{
			Approver:   FallbackManager,
			Unassigned: UnassignedAdmins,
		},
	}
}

// RuleSet validates the configured rules and the fallback.
func (c *PolicyConfig) RuleSet() (*RuleSet, error) {
	if err := c.Fallback.Validate(); err != nil {
		return nil, model.Errorf(model.KindInvalidRule, "%v", err)
	}
	return NewRuleSet(c.Rules...)
}

func defaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".spendgate", "rules.yaml"), nil
}

// LoadConfig loads rules from a YAML file.
// Empty path falls back to ~/.spendgate/rules.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*PolicyConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads rules and returns the SHA-256 of the raw bytes.
// When no file exists the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*PolicyConfig, string, error) {
	if path == "" {
		p, err := defaultPath()
		if err != nil {
			return DefaultConfig(), hashOf(nil), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), hashOf(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read rules config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse rules config: %w", err)
	}

	return cfg, hashOf(data), nil
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML string for spendgate init.
func DefaultConfigYAML() string {
	return `# spendgate approval rules
# Generated by: spendgate init
#
# Rules are evaluated in order. The first active rule whose conditions
# all hold decides who approves the expense.
#
# conditions:
#   field: amount | category | submitter | description
#   amount operators: > >= < <= == !=  (value is compared in base currency
#     unless currency is set)
#   category/submitter operators: in | not_in  (values: [...])
#   description operator: contains
#
# approvers: user ids or role:<name>. role:manager is the submitter's manager.
#   order must be unique and contiguous from 1. required defaults to true.
#
# resolution:
#   sequential                        every required approver, in order
#   percentage  threshold: 60         60% of required approvers
#   specific    approver: <ref>       that approver alone is enough
#   hybrid      threshold + approver  either condition
#
# escalate_after: optional duration (e.g. 72h) after which a pending
#   expense is marked escalated.

rules:
  - id: high-value
    name: High Value Approval
    conditions:
      - field: amount
        operator: ">"
        value: "1000"
    approvers:
      - approver: role:manager
        order: 1
      - approver: role:finance
        order: 2
      - approver: role:director
        order: 3
    resolution:
      type: percentage
      threshold: 60

  - id: standard
    name: Standard Approval
    conditions:
      - field: amount
        operator: ">"
        value: "100"
    approvers:
      - approver: role:manager
        order: 1
      - approver: role:finance
        order: 2
    resolution:
      type: sequential

# Applied when no rule matches.
#   approver: manager | none
#   unassigned (no manager): admins | auto_approve | reject
fallback:
  approver: manager
  unassigned: admins
`
}
