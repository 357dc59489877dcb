package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/spendgate/internal/approval"
	"github.com/ppiankov/spendgate/internal/audit"
	"github.com/ppiankov/spendgate/internal/directory"
	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/policy"
)

// Rules returns a snapshot of the rule set in evaluation order.
func (s *Service) Rules() []policy.Rule {
	return s.rules.Rules()
}

// Rule returns the rule with the given id.
func (s *Service) Rule(id string) (policy.Rule, error) {
	r, ok := s.rules.Get(id)
	if !ok {
		return policy.Rule{}, model.Errorf(model.KindNotFound, "rule %q not found", id)
	}
	return r, nil
}

// AddRule validates r and appends it. actor needs rules:manage.
func (s *Service) AddRule(ctx context.Context, actor string, r policy.Rule) error {
	if err := s.canManage(ctx, actor); err != nil {
		return err
	}
	if err := s.rules.AddRule(r); err != nil {
		return err
	}
	s.rulesChanged(actor, "added "+r.ID)
	return nil
}

// UpdateRule replaces the rule with r.ID. actor needs rules:manage.
func (s *Service) UpdateRule(ctx context.Context, actor string, r policy.Rule) error {
	if err := s.canManage(ctx, actor); err != nil {
		return err
	}
	if err := s.rules.UpdateRule(r); err != nil {
		return err
	}
	s.rulesChanged(actor, "updated "+r.ID)
	return nil
}

// RemoveRule deletes a rule. In-flight plans are unaffected.
func (s *Service) RemoveRule(ctx context.Context, actor, id string) error {
	if err := s.canManage(ctx, actor); err != nil {
		return err
	}
	if err := s.rules.RemoveRule(id); err != nil {
		return err
	}
	s.rulesChanged(actor, "removed "+id)
	return nil
}

// SetRuleActive toggles whether a rule takes part in matching.
func (s *Service) SetRuleActive(ctx context.Context, actor, id string, active bool) error {
	if err := s.canManage(ctx, actor); err != nil {
		return err
	}
	if err := s.rules.SetActive(id, active); err != nil {
		return err
	}
	verb := "deactivated "
	if active {
		verb = "activated "
	}
	s.rulesChanged(actor, verb+id)
	return nil
}

// ReplaceRules swaps in a freshly loaded rules config. Used by the file
// reloader; the caller is the system, not a user.
func (s *Service) ReplaceRules(cfg *policy.PolicyConfig, hash string) error {
	if cfg == nil {
		return fmt.Errorf("workflow: nil rules config")
	}
	fb := cfg.Fallback
	if err := fb.Validate(); err != nil {
		return &model.Error{Kind: model.KindInvalidRule, Reason: "fallback", Err: err}
	}
	next, err := cfg.RuleSet()
	if err != nil {
		return err
	}

	s.rules.Replace(next)
	s.mu.Lock()
	s.fallback = fb
	s.policyHash = hash
	s.mu.Unlock()

	s.rulesChanged(approval.SystemActor, fmt.Sprintf("reloaded %d rules", len(next.Rules())))
	return nil
}

// Fallback returns the no-match policy in force.
func (s *Service) Fallback() policy.Fallback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// PolicyHash returns the hash of the rules file in force.
func (s *Service) PolicyHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyHash
}

func (s *Service) canManage(ctx context.Context, actor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.dir.Can(actor, directory.PermManageRules) {
		return model.Errorf(model.KindNotAuthorizedApprover, "%s may not manage approval rules", actor)
	}
	return nil
}

func (s *Service) rulesChanged(actor, reason string) {
	entry := audit.AuditEntry{
		Timestamp:  s.now().UTC().Format(audit.TimestampFormat),
		Event:      audit.EventRulesChanged,
		Actor:      actor,
		Reason:     reason,
		PolicyHash: s.PolicyHash(),
	}
	if err := s.audit.Record(entry); err != nil {
		s.log.Error("audit record failed", zap.String("event", entry.Event), zap.Error(err))
	}
	s.log.Info("rules changed", zap.String("actor", actor), zap.String("change", reason))
}

// Categories returns the accepted categories, sorted.
func (s *Service) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]string(nil), s.categories...)
	sort.Strings(out)
	return out
}

// AddCategory accepts a new category. Existing names are ignored.
func (s *Service) AddCategory(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Errorf(model.KindValidation, "category name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if strings.EqualFold(c, name) {
			return nil
		}
	}
	s.categories = append(s.categories, name)
	return nil
}

// canonicalCategory returns the configured spelling of name.
func (s *Service) canonicalCategory(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", model.Errorf(model.KindValidation, "category is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.categories) == 0 {
		return name, nil
	}
	for _, c := range s.categories {
		if strings.EqualFold(c, name) {
			return c, nil
		}
	}
	return "", model.Errorf(model.KindValidation, "unknown category %q", name)
}
