package workflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/spendgate/internal/approval"
	"github.com/ppiankov/spendgate/internal/directory"
	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/store"
)

// Get returns the expense with the given id.
func (s *Service) Get(ctx context.Context, id string) (*model.Expense, error) {
	return s.store.Get(ctx, id)
}

// List returns expenses passing f, newest first.
func (s *Service) List(ctx context.Context, f store.Filter) ([]*model.Expense, error) {
	return s.store.List(ctx, f)
}

// CanView reports whether callerID may read e: its submitter, anyone
// assigned to or deciding it, or a holder of expense:view_all.
func (s *Service) CanView(e *model.Expense, callerID string) bool {
	if callerID == "" {
		return false
	}
	if e.SubmitterID == callerID || s.dir.Can(callerID, directory.PermViewAll) {
		return true
	}
	for _, step := range e.ApprovalHistory {
		if step.ApproverID == callerID {
			return true
		}
	}
	if e.Plan != nil {
		for _, slot := range e.Plan.Slots {
			if slot.UserID == callerID {
				return true
			}
		}
	}
	return approval.CanDecide(e, callerID, s.dir)
}

// GetFor returns expense id if callerID may view it. Hidden expenses
// report NotFound.
func (s *Service) GetFor(ctx context.Context, id, callerID string) (*model.Expense, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.CanView(e, callerID) {
		return nil, model.Errorf(model.KindNotFound, "expense %s not found", id)
	}
	return e, nil
}

// ListFor returns the expenses passing f that callerID may view.
func (s *Service) ListFor(ctx context.Context, callerID string, f store.Filter) ([]*model.Expense, error) {
	if s.dir.Can(callerID, directory.PermViewAll) {
		return s.store.List(ctx, f)
	}
	n := f.Limit
	f.Limit = 0
	all, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	var out []*model.Expense
	for _, e := range all {
		if !s.CanView(e, callerID) {
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out, nil
}

// ListByStatus returns expenses in status.
func (s *Service) ListByStatus(ctx context.Context, status model.Status) ([]*model.Expense, error) {
	return s.store.List(ctx, store.Filter{Statuses: []model.Status{status}})
}

// ListByUser returns expenses submitted by userID.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*model.Expense, error) {
	return s.store.List(ctx, store.Filter{SubmitterID: userID})
}

// ListByCategory returns expenses in category, compared case-insensitively.
func (s *Service) ListByCategory(ctx context.Context, category string) ([]*model.Expense, error) {
	return s.store.List(ctx, store.Filter{Category: category})
}

// ListByDateRange returns expenses dated within [from, to]. A to at
// midnight covers that whole day.
func (s *Service) ListByDateRange(ctx context.Context, from, to time.Time) ([]*model.Expense, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, model.Errorf(model.KindValidation, "date range ends before it starts")
	}
	return s.store.List(ctx, store.Filter{From: from, To: endOfDay(to)})
}

func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Add(24*time.Hour - time.Nanosecond)
	}
	return t
}

// PendingFor returns the open expenses approverID could decide right now.
func (s *Service) PendingFor(ctx context.Context, approverID string) ([]*model.Expense, error) {
	open, err := s.store.List(ctx, store.Filter{Statuses: []model.Status{model.StatusPending, model.StatusEscalated}})
	if err != nil {
		return nil, err
	}
	var out []*model.Expense
	for _, e := range open {
		if approval.CanDecide(e, approverID, s.dir) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Stats summarizes expenses by status.
type Stats struct {
	Total        int                              `json:"total"`
	ByStatus     map[model.Status]int             `json:"by_status"`
	Amounts      map[model.Status]decimal.Decimal `json:"amounts"`
	BaseCurrency string                           `json:"base_currency"`
	Unconverted  int                              `json:"unconverted"`
	// ApprovalRate is approved over total, in percent.
	ApprovalRate float64 `json:"approval_rate"`
}

// Stats computes totals over the expenses passing f.
func (s *Service) Stats(ctx context.Context, f store.Filter) (Stats, error) {
	f.Limit = 0
	list, err := s.store.List(ctx, f)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		ByStatus:     make(map[model.Status]int),
		Amounts:      make(map[model.Status]decimal.Decimal),
		BaseCurrency: s.base,
	}
	for _, status := range []model.Status{model.StatusPending, model.StatusEscalated, model.StatusApproved, model.StatusRejected} {
		st.ByStatus[status] = 0
		st.Amounts[status] = decimal.Zero
	}
	for _, e := range list {
		st.Total++
		st.ByStatus[e.Status]++
		st.Amounts[e.Status] = st.Amounts[e.Status].Add(e.ConvertedAmount)
		if e.Unconverted {
			st.Unconverted++
		}
	}
	if st.Total > 0 {
		st.ApprovalRate = float64(st.ByStatus[model.StatusApproved]) / float64(st.Total) * 100
	}
	return st, nil
}
