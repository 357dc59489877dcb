// Package workflow drives expenses from submission to a terminal status.
//
// Service is the only writer: it normalizes amounts, routes expenses through
// the rule set, applies state machine transitions under a per-expense lock
// and records every committed change in the audit log.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ppiankov/spendgate/internal/approval"
	"github.com/ppiankov/spendgate/internal/audit"
	"github.com/ppiankov/spendgate/internal/currency"
	"github.com/ppiankov/spendgate/internal/directory"
	"github.com/ppiankov/spendgate/internal/logging"
	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/policy"
	"github.com/ppiankov/spendgate/internal/store"
)

// DefaultRateTimeout bounds a rate lookup during submit and update.
const DefaultRateTimeout = 3 * time.Second

// Options wires a Service. Only Store is mandatory.
type Options struct {
	Store        store.Store
	Rules        *policy.RuleSet
	Fallback     policy.Fallback
	PolicyHash   string
	Directory    directory.Service
	Rates        currency.Provider
	RateTimeout  time.Duration
	BaseCurrency string
	// Categories restricts accepted categories. Empty accepts any.
	Categories []string
	Audit      audit.Recorder
	Logger     *zap.Logger
	Now        func() time.Time
}

// Service is the expense workflow.
type Service struct {
	store       store.Store
	rules       *policy.RuleSet
	dir         directory.Service
	rates       currency.Provider
	rateTimeout time.Duration
	base        string
	audit       audit.Recorder
	log         *zap.Logger
	now         func() time.Time
	locks       *keyedMutex

	mu         sync.RWMutex
	fallback   policy.Fallback
	policyHash string
	categories []string
}

// SubmitRequest carries the submitter's input for a new expense.
type SubmitRequest struct {
	SubmitterID string          `json:"submitter_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
}

// Patch is a partial edit. Nil fields are left unchanged.
type Patch struct {
	Description *string          `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    *string          `json:"currency,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Date        *time.Time       `json:"date,omitempty"`
}

// reroutes reports whether the patch touches a field rules can match on.
func (p Patch) reroutes() bool {
	return p.Amount != nil || p.Currency != nil || p.Category != nil || p.Date != nil
}

// New builds a Service, filling defaults for every optional collaborator.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("workflow: store is required")
	}

	base := currency.Normalize(opts.BaseCurrency)
	if base == "" {
		base = "USD"
	}
	if !currency.ValidCode(base) {
		return nil, fmt.Errorf("workflow: invalid base currency %q", opts.BaseCurrency)
	}

	rules := opts.Rules
	if rules == nil {
		rs, err := policy.NewRuleSet(policy.DefaultRules()...)
		if err != nil {
			return nil, fmt.Errorf("workflow: default rules: %w", err)
		}
		rules = rs
	}

	fb := opts.Fallback
	if fb.Approver == "" {
		fb.Approver = policy.FallbackManager
	}
	if fb.Unassigned == "" {
		fb.Unassigned = policy.UnassignedAdmins
	}
	if err := fb.Validate(); err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}

	s := &Service{
		store:       opts.Store,
		rules:       rules,
		dir:         opts.Directory,
		rates:       opts.Rates,
		rateTimeout: opts.RateTimeout,
		base:        base,
		audit:       opts.Audit,
		log:         logging.OrNop(opts.Logger),
		now:         opts.Now,
		locks:       newKeyedMutex(),
		fallback:    fb,
		policyHash:  opts.PolicyHash,
	}
	if s.dir == nil {
		s.dir = directory.NewStatic(nil, nil)
	}
	if s.rates == nil {
		s.rates = currency.StaticProvider{Base: base}
	}
	if s.rateTimeout <= 0 {
		s.rateTimeout = DefaultRateTimeout
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, c := range opts.Categories {
		if err := s.AddCategory(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// BaseCurrency returns the currency every expense is normalized into.
func (s *Service) BaseCurrency() string { return s.base }

// Directory returns the directory used for routing and authorization.
func (s *Service) Directory() directory.Service { return s.dir }

// Submit validates req, normalizes its amount, routes it and persists it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Expense, error) {
	e, table, err := s.draft(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	e, rule, err := s.route(e, table, now)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}

	s.record(e, event{name: audit.EventSubmitted, actor: e.SubmitterID, rule: rule})
	if e.Status.Terminal() {
		s.record(e, event{name: audit.EventResolved, actor: approval.SystemActor, decision: string(e.Status), reason: "no rule matched"})
	}
	s.log.Info("expense submitted",
		zap.String("id", e.ID),
		zap.String("submitter", e.SubmitterID),
		zap.String("amount", e.Amount.String()),
		zap.String("currency", e.Currency),
		zap.String("status", string(e.Status)),
		zap.String("rule", rule),
	)
	return e, nil
}

// Preview returns the plan req would receive without storing anything.
// A nil plan with a terminal status means the fallback resolves it outright.
func (s *Service) Preview(ctx context.Context, req SubmitRequest) (*model.Expense, error) {
	e, table, err := s.draft(ctx, req)
	if err != nil {
		return nil, err
	}
	e, _, err = s.route(e, table, s.now().UTC())
	return e, err
}

// draft builds an unsaved, priced expense from req.
func (s *Service) draft(ctx context.Context, req SubmitRequest) (*model.Expense, currency.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	submitter := strings.TrimSpace(req.SubmitterID)
	if submitter == "" {
		return nil, nil, model.Errorf(model.KindValidation, "submitter id is required")
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return nil, nil, model.Errorf(model.KindValidation, "description is required")
	}
	if !req.Amount.IsPositive() {
		return nil, nil, model.Errorf(model.KindValidation, "amount %s must be positive", req.Amount.String())
	}
	code := currency.Normalize(req.Currency)
	if !currency.ValidCode(code) {
		return nil, nil, model.Errorf(model.KindValidation, "currency %q is not an ISO 4217 code", req.Currency)
	}
	category, err := s.canonicalCategory(req.Category)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	date := req.Date.UTC()
	if req.Date.IsZero() {
		date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	e := &model.Expense{
		ID:              uuid.NewString(),
		SubmitterID:     submitter,
		Description:     desc,
		Amount:          req.Amount,
		Currency:        code,
		Category:        category,
		Date:            date,
		Status:          model.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		ApprovalHistory: []model.AuditStep{},
	}
	table, err := s.price(ctx, e)
	if err != nil {
		return nil, nil, err
	}
	return e, table, nil
}

// price fills the converted amount. An unavailable rate is not fatal:
// the expense keeps its own amount and is flagged unconverted.
func (s *Service) price(ctx context.Context, e *model.Expense) (currency.Table, error) {
	rctx, cancel := context.WithTimeout(ctx, s.rateTimeout)
	table, rateErr := s.rates.GetRates(rctx, s.base)
	cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.BaseCurrency = s.base
	conv, err := currency.Normalizer{Base: s.base}.Normalize(e.Amount, e.Currency, table)
	switch {
	case err == nil:
		e.ConvertedAmount = conv
		e.Unconverted = false
	case errors.Is(err, model.ErrRateUnavailable):
		e.ConvertedAmount = e.Amount
		e.Unconverted = true
		fields := []zap.Field{zap.String("currency", e.Currency), zap.String("base", s.base), zap.Error(err)}
		if rateErr != nil {
			fields = append(fields, zap.NamedError("provider", rateErr))
		}
		s.log.Warn("rate unavailable, keeping unconverted amount", fields...)
	default:
		return nil, err
	}
	return table, nil
}

// route installs the governing plan, falling back when no rule matches.
// It returns the expense (a new value when the fallback resolved it) and
// the name of the plan that governs it.
func (s *Service) route(e *model.Expense, table currency.Table, now time.Time) (*model.Expense, string, error) {
	m := policy.Matcher{Normalizer: currency.Normalizer{Base: s.base}, Directory: s.dir}

	plan, err := m.Match(e, s.rules.Rules(), table)
	if err == nil {
		approval.Start(e, plan)
		return e, plan.RuleName, nil
	}
	if !errors.Is(err, model.ErrNoRuleMatched) {
		return nil, "", err
	}

	fb := s.Fallback()
	plan, status := m.FallbackPlan(e, fb)
	if plan != nil {
		approval.Start(e, plan)
		return e, plan.RuleName, nil
	}
	e.Status = model.StatusPending
	e.Plan = nil
	out, err := approval.Resolve(e, status, "no rule matched; unassigned policy "+fb.Unassigned, now)
	if err != nil {
		return nil, "", err
	}
	return out, "", nil
}

// Decide records approverID's decision on expense id.
func (s *Service) Decide(ctx context.Context, id, approverID string, d model.Decision, comments string) (*model.Expense, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rule := ruleName(e)

	out, err := approval.Decide(e, approverID, d, comments, s.dir, s.now())
	if err != nil {
		s.log.Debug("decision refused", zap.String("id", id), zap.String("approver", approverID), zap.Error(err))
		return nil, err
	}
	if err := s.commit(ctx, out); err != nil {
		return nil, err
	}

	step := out.ApprovalHistory[len(out.ApprovalHistory)-1]
	s.record(out, event{name: audit.EventDecided, actor: approverID, decision: string(d), rule: rule, slot: step.Slot, reason: comments})
	if out.Status.Terminal() {
		s.record(out, event{name: audit.EventResolved, actor: approverID, decision: string(out.Status), rule: rule})
	}
	s.log.Info("expense decided",
		zap.String("id", id),
		zap.String("approver", approverID),
		zap.String("decision", string(d)),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

// Approve is Decide with model.Approve.
func (s *Service) Approve(ctx context.Context, id, approverID, comments string) (*model.Expense, error) {
	return s.Decide(ctx, id, approverID, model.Approve, comments)
}

// Reject is Decide with model.Reject.
func (s *Service) Reject(ctx context.Context, id, approverID, comments string) (*model.Expense, error) {
	return s.Decide(ctx, id, approverID, model.Reject, comments)
}

// Override forces a terminal outcome on behalf of an authorized admin.
func (s *Service) Override(ctx context.Context, id, adminID string, d model.Decision, comments string) (*model.Expense, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rule := ruleName(e)

	out, err := approval.Override(e, adminID, d, comments, s.dir, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, out); err != nil {
		return nil, err
	}

	s.record(out, event{name: audit.EventOverridden, actor: adminID, decision: string(d), rule: rule, reason: comments})
	s.log.Warn("approval overridden",
		zap.String("id", id),
		zap.String("admin", adminID),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

// Escalate moves a pending expense to escalated.
func (s *Service) Escalate(ctx context.Context, id, actor string) (*model.Expense, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.escalate(ctx, e, actor, "manual escalation")
}

// EscalateOverdue escalates every pending expense that has waited longer
// than its plan's escalation delay. It returns the number escalated.
func (s *Service) EscalateOverdue(ctx context.Context) (int, error) {
	list, err := s.store.List(ctx, store.Filter{Statuses: []model.Status{model.StatusPending}})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, candidate := range list {
		if !approval.Overdue(candidate, s.now()) {
			continue
		}
		escalated, err := s.escalateIfOverdue(ctx, candidate.ID)
		if err != nil {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			s.log.Warn("escalation failed", zap.String("id", candidate.ID), zap.Error(err))
			continue
		}
		if escalated {
			n++
		}
	}
	return n, nil
}

func (s *Service) escalateIfOverdue(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	// A decision may have landed since the list was taken.
	if !approval.Overdue(e, s.now()) {
		return false, nil
	}
	if _, err := s.escalate(ctx, e, approval.SystemActor, fmt.Sprintf("waiting longer than %s", e.Plan.EscalateAfter)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) escalate(ctx context.Context, e *model.Expense, actor, reason string) (*model.Expense, error) {
	out, err := approval.Escalate(e, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, out); err != nil {
		return nil, err
	}
	s.record(out, event{name: audit.EventEscalated, actor: actor, rule: ruleName(out), reason: reason})
	s.log.Info("expense escalated", zap.String("id", out.ID), zap.String("actor", actor))
	return out, nil
}

// Update applies p to an open expense. Only the submitter may edit.
// Fields rules match on can only change before the first decision; such
// edits re-price and re-route the expense.
func (s *Service) Update(ctx context.Context, id, callerID string, p Patch) (*model.Expense, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Status.Open() {
		return nil, model.Errorf(model.KindNotPending, "expense %s is %s and can no longer be edited", id, e.Status)
	}
	if callerID != e.SubmitterID {
		return nil, model.Errorf(model.KindNotAuthorizedApprover, "only the submitter may edit expense %s", id)
	}

	out := e.Clone()
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		if desc == "" {
			return nil, model.Errorf(model.KindValidation, "description is required")
		}
		out.Description = desc
	}

	rule := ruleName(e)
	if p.reroutes() {
		if len(e.ApprovalHistory) > 0 {
			return nil, model.Errorf(model.KindValidation,
				"expense %s already has decisions; amount, currency, category and date are locked", id)
		}
		if err := s.applyRouting(out, p); err != nil {
			return nil, err
		}
		table, err := s.price(ctx, out)
		if err != nil {
			return nil, err
		}
		out, rule, err = s.route(out, table, s.now().UTC())
		if err != nil {
			return nil, err
		}
		// A new plan does not clear an escalation.
		if e.Status == model.StatusEscalated && out.Status == model.StatusPending {
			out.Status = model.StatusEscalated
		}
	}
	out.Touch(s.now())

	if err := s.commit(ctx, out); err != nil {
		return nil, err
	}
	s.record(out, event{name: audit.EventUpdated, actor: callerID, rule: rule})
	if out.Status.Terminal() {
		s.record(out, event{name: audit.EventResolved, actor: approval.SystemActor, decision: string(out.Status), reason: "no rule matched"})
	}
	s.log.Info("expense updated", zap.String("id", id), zap.Bool("rerouted", p.reroutes()))
	return out, nil
}

func (s *Service) applyRouting(e *model.Expense, p Patch) error {
	if p.Amount != nil {
		if !p.Amount.IsPositive() {
			return model.Errorf(model.KindValidation, "amount %s must be positive", p.Amount.String())
		}
		e.Amount = *p.Amount
	}
	if p.Currency != nil {
		code := currency.Normalize(*p.Currency)
		if !currency.ValidCode(code) {
			return model.Errorf(model.KindValidation, "currency %q is not an ISO 4217 code", *p.Currency)
		}
		e.Currency = code
	}
	if p.Category != nil {
		c, err := s.canonicalCategory(*p.Category)
		if err != nil {
			return err
		}
		e.Category = c
	}
	if p.Date != nil {
		if p.Date.IsZero() {
			return model.Errorf(model.KindValidation, "date is required")
		}
		e.Date = p.Date.UTC()
	}
	return nil
}

// Delete removes a pending expense. Only the submitter may delete, and only
// before it escalates or resolves.
func (s *Service) Delete(ctx context.Context, id, callerID string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != model.StatusPending {
		return model.Errorf(model.KindNotPending, "expense %s is %s and can no longer be deleted", id, e.Status)
	}
	if callerID != e.SubmitterID {
		return model.Errorf(model.KindNotAuthorizedApprover, "only the submitter may delete expense %s", id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, e.Version); err != nil {
		return err
	}
	s.record(e, event{name: audit.EventDeleted, actor: callerID, rule: ruleName(e)})
	s.log.Info("expense deleted", zap.String("id", id))
	return nil
}

// commit persists out unless ctx was cancelled first.
func (s *Service) commit(ctx context.Context, out *model.Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.Save(ctx, out)
}

type event struct {
	name     string
	actor    string
	decision string
	rule     string
	slot     int
	reason   string
}

// record appends to the audit log. The change is already committed, so a
// failing log is reported but does not fail the operation.
func (s *Service) record(e *model.Expense, ev event) {
	entry := audit.AuditEntry{
		Timestamp: s.now().UTC().Format(audit.TimestampFormat),
		ExpenseID: e.ID,
		Event:     ev.name,
		Actor:     ev.actor,
		Decision:  ev.decision,
		Status:    string(e.Status),
		Rule:      ev.rule,
		Slot:      ev.slot,
		Amount: audit.Amount{
			Value:     e.Amount.String(),
			Currency:  e.Currency,
			Converted: e.ConvertedAmount.StringFixed(2),
		},
		Reason:     ev.reason,
		PolicyHash: s.PolicyHash(),
	}
	if err := s.audit.Record(entry); err != nil {
		s.log.Error("audit record failed", zap.String("id", e.ID), zap.String("event", ev.name), zap.Error(err))
	}
}

func ruleName(e *model.Expense) string {
	if e == nil || e.Plan == nil {
		return ""
	}
	return e.Plan.RuleName
}
