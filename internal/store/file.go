package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ppiankov/spendgate/internal/model"
)

// validID matches alphanumeric, dash, underscore, and dot characters only.
var validID = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateID rejects ids that could cause path traversal.
func validateID(id string) error {
	if id == "" {
		return model.Errorf(model.KindValidation, "id must not be empty")
	}
	if strings.Contains(id, "..") || !validID.MatchString(id) {
		return model.Errorf(model.KindValidation, "id %q contains invalid characters", id)
	}
	return nil
}

// File keeps one JSON document per expense in a directory.
// Writes go through a temp file and rename.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates a File store backed by dir.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create expense directory: %w", err)
	}
	return &File{dir: dir}, nil
}

// DefaultDir returns the default file store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "spendgate-expenses")
	}
	return filepath.Join(home, ".spendgate", "expenses")
}

func (s *File) Create(ctx context.Context, e *model.Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkCreate(e); err != nil {
		return err
	}
	if err := validateID(e.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(e.ID)
	if _, err := os.Stat(path); err == nil {
		return model.Errorf(model.KindValidation, "expense %s already exists", e.ID)
	}
	e.Version = 1
	if err := s.writeAtomic(path, e); err != nil {
		e.Version = 0
		return err
	}
	return nil
}

func (s *File) Get(ctx context.Context, id string) (*model.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *File) Save(ctx context.Context, e *model.Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(e.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.read(e.ID)
	if err != nil {
		return err
	}
	if err := checkSave(stored, e); err != nil {
		return err
	}
	next := e.Clone()
	next.Version++
	if err := s.writeAtomic(s.path(e.ID), next); err != nil {
		return err
	}
	e.Version = next.Version
	return nil
}

func (s *File) Delete(ctx context.Context, id string, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.read(id)
	if err != nil {
		return err
	}
	if stored.Version != version {
		return model.Errorf(model.KindConcurrentModification,
			"expense %s: version %d is stale, stored version is %d", id, version, stored.Version)
	}
	return os.Remove(s.path(id))
}

func (s *File) List(ctx context.Context, f Filter) ([]*model.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*model.Expense
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		e, err := s.read(strings.TrimSuffix(ent.Name(), ".json"))
		if err != nil {
			continue
		}
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sortExpenses(out)
	return limit(out, f.Limit), nil
}

func (s *File) Close() error { return nil }

func (s *File) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *File) read(id string) (*model.Expense, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, err
	}

	var e model.Expense
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode expense %s: %w", id, err)
	}
	return &e, nil
}

func (s *File) writeAtomic(path string, e *model.Expense) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
