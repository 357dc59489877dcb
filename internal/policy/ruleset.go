package policy

import (
	"sync"

	"github.com/ppiankov/spendgate/internal/model"
)

// RuleSet is an ordered, validated collection of rules. Safe for concurrent use.
type RuleSet struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRuleSet validates rules and returns a set preserving their order.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	s := &RuleSet{}
	for _, r := range rules {
		if err := s.AddRule(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddRule validates r and appends it. Duplicate ids are rejected.
func (s *RuleSet) AddRule(r Rule) error {
	valid, err := r.Validate()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(r.ID) >= 0 {
		return &model.Error{
			Kind:   model.KindInvalidRule,
			Reason: "rule \"" + r.ID + "\": id already exists",
			Err:    Violations{"id already exists"},
		}
	}
	s.rules = append(s.rules, valid)
	return nil
}

// UpdateRule replaces the rule with the same id, keeping its position.
func (s *RuleSet) UpdateRule(r Rule) error {
	valid, err := r.Validate()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(r.ID)
	if i < 0 {
		return model.Errorf(model.KindNotFound, "rule %q not found", r.ID)
	}
	s.rules[i] = valid
	return nil
}

// RemoveRule deletes the rule with id.
func (s *RuleSet) RemoveRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Errorf(model.KindNotFound, "rule %q not found", id)
	}
	s.rules = append(s.rules[:i:i], s.rules[i+1:]...)
	return nil
}

// SetActive toggles whether the rule takes part in matching.
func (s *RuleSet) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Errorf(model.KindNotFound, "rule %q not found", id)
	}
	s.rules[i].Active = active
	return nil
}

// Get returns the rule with id.
func (s *RuleSet) Get(id string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return Rule{}, false
	}
	return s.rules[i], true
}

// Rules returns a snapshot in evaluation order.
func (s *RuleSet) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Replace swaps in the rules of other atomically. Used by hot-reload.
func (s *RuleSet) Replace(other *RuleSet) {
	rules := other.Rules()
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

func (s *RuleSet) indexOf(id string) int {
	for i, r := range s.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}
