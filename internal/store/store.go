// Package store persists expenses.
//
// Every backend hands out clones, checks the optimistic version on Save and
// refuses writes that would shrink or rewrite approval history.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/spendgate/internal/model"
)

// Store is the persistence boundary used by the workflow.
type Store interface {
	// Create inserts e with version 1.
	Create(ctx context.Context, e *model.Expense) error
	Get(ctx context.Context, id string) (*model.Expense, error)
	// Save replaces the stored expense when its version still equals e.Version,
	// then increments e.Version.
	Save(ctx context.Context, e *model.Expense) error
	Delete(ctx context.Context, id string, version int64) error
	List(ctx context.Context, f Filter) ([]*model.Expense, error)
	Close() error
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	Statuses    []model.Status
	SubmitterID string
	Category    string
	From        time.Time // inclusive
	To          time.Time // inclusive
	Limit       int
}

// Match reports whether e passes f.
func (f Filter) Match(e *model.Expense) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.SubmitterID != "" && e.SubmitterID != f.SubmitterID {
		return false
	}
	if f.Category != "" && !strings.EqualFold(e.Category, f.Category) {
		return false
	}
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To) {
		return false
	}
	return true
}

// Kinds of backend accepted by Open.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindFile   = "file"
)

// Open returns the backend named by kind.
func Open(kind, path string) (Store, error) {
	switch kind {
	case KindMemory, "":
		return NewMemory(), nil
	case KindSQLite:
		return NewSQLite(path)
	case KindFile:
		return NewFile(path)
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

// checkCreate validates an expense before first insert.
func checkCreate(e *model.Expense) error {
	if e == nil || e.ID == "" {
		return model.Errorf(model.KindValidation, "expense id is required")
	}
	return nil
}

// checkSave enforces the version and append-only history on update.
func checkSave(stored, next *model.Expense) error {
	if stored.Version != next.Version {
		return model.Errorf(model.KindConcurrentModification,
			"expense %s: version %d is stale, stored version is %d", next.ID, next.Version, stored.Version)
	}
	if len(next.ApprovalHistory) < len(stored.ApprovalHistory) {
		return model.Errorf(model.KindValidation, "expense %s: approval history cannot shrink", next.ID)
	}
	for i, s := range stored.ApprovalHistory {
		n := next.ApprovalHistory[i]
		if s.ApproverID != n.ApproverID || s.Decision != n.Decision || !s.Timestamp.Equal(n.Timestamp) || s.Override != n.Override {
			return model.Errorf(model.KindValidation, "expense %s: approval history step %d was rewritten", next.ID, i+1)
		}
	}
	return nil
}

func notFound(id string) error {
	return model.Errorf(model.KindNotFound, "expense %s not found", id)
}

// sortExpenses orders by date desc, then createdAt desc, then id.
func sortExpenses(list []*model.Expense) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func limit(list []*model.Expense, n int) []*model.Expense {
	if n > 0 && len(list) > n {
		return list[:n]
	}
	return list
}
