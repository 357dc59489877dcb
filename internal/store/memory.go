package store

import (
	"context"
	"sync"

	"github.com/ppiankov/spendgate/internal/model"
)

// Memory is a process-local Store.
type Memory struct {
	mu       sync.RWMutex
	expenses map[string]*model.Expense
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{expenses: make(map[string]*model.Expense)}
}

func (m *Memory) Create(ctx context.Context, e *model.Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkCreate(e); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.expenses[e.ID]; ok {
		return model.Errorf(model.KindValidation, "expense %s already exists", e.ID)
	}
	e.Version = 1
	m.expenses[e.ID] = e.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*model.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.expenses[id]
	if !ok {
		return nil, notFound(id)
	}
	return e.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, e *model.Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.expenses[e.ID]
	if !ok {
		return notFound(e.ID)
	}
	if err := checkSave(stored, e); err != nil {
		return err
	}
	e.Version++
	m.expenses[e.ID] = e.Clone()
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.expenses[id]
	if !ok {
		return notFound(id)
	}
	if stored.Version != version {
		return model.Errorf(model.KindConcurrentModification,
			"expense %s: version %d is stale, stored version is %d", id, version, stored.Version)
	}
	delete(m.expenses, id)
	return nil
}

func (m *Memory) List(ctx context.Context, f Filter) ([]*model.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]*model.Expense, 0, len(m.expenses))
	for _, e := range m.expenses {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	m.mu.RUnlock()

	sortExpenses(out)
	return limit(out, f.Limit), nil
}

func (m *Memory) Close() error { return nil }
