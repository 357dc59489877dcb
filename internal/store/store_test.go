package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ppiankov/spendgate/internal/model"
)

// StoreTestSuite runs the same contract against every backend.
type StoreTestSuite struct {
	suite.Suite
	open  func(t *testing.T) Store
	store Store
	ctx   context.Context
}

// SetupTest runs before each test
func (suite *StoreTestSuite) SetupTest() {
	suite.store = suite.open(suite.T())
	suite.ctx = context.Background()
}

// TearDownTest runs after each test
func (suite *StoreTestSuite) TearDownTest() {
	if suite.store != nil {
		suite.store.Close()
	}
}

var day = time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

func newExpense(id, submitter, category string, status model.Status, date time.Time) *model.Expense {
	return &model.Expense{
		ID:              id,
		SubmitterID:     submitter,
		Description:     "Taxi",
		Amount:          decimal.RequireFromString("42.50"),
		Currency:        "USD",
		ConvertedAmount: decimal.RequireFromString("42.50"),
		BaseCurrency:    "USD",
		Category:        category,
		Date:            date,
		Status:          status,
		CreatedAt:       date.Add(time.Hour),
		UpdatedAt:       date.Add(time.Hour),
	}
}

func (suite *StoreTestSuite) TestCreateAndGet() {
	e := newExpense("e-1", "emp", "Travel", model.StatusPending, day)
	require.NoError(suite.T(), suite.store.Create(suite.ctx, e))
	assert.Equal(suite.T(), int64(1), e.Version)

	got, err := suite.store.Get(suite.ctx, "e-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "emp", got.SubmitterID)
	assert.True(suite.T(), got.Amount.Equal(e.Amount))
	assert.Equal(suite.T(), int64(1), got.Version)
}

func (suite *StoreTestSuite) TestCreateDuplicate() {
	require.NoError(suite.T(), suite.store.Create(suite.ctx, newExpense("e-1", "emp", "Travel", model.StatusPending, day)))
	err := suite.store.Create(suite.ctx, newExpense("e-1", "emp", "Travel", model.StatusPending, day))
	assert.True(suite.T(), errors.Is(err, model.ErrValidation), "got %v", err)
}

func (suite *StoreTestSuite) TestGetMissing() {
	_, err := suite.store.Get(suite.ctx, "nope")
	assert.True(suite.T(), errors.Is(err, model.ErrNotFound), "got %v", err)
}

func (suite *StoreTestSuite) TestSaveBumpsVersion() {
	e := newExpense("e-1", "emp", "Travel", model.StatusPending, day)
	require.NoError(suite.T(), suite.store.Create(suite.ctx, e))

	e.Description = "Airport taxi"
	require.NoError(suite.T(), suite.store.Save(suite.ctx, e))
	assert.Equal(suite.T(), int64(2), e.Version)

	got, err := suite.store.Get(suite.ctx, "e-1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Airport taxi", got.Description)
	assert.Equal(suite.T(), int64(2), got.Version)
}

func (suite *StoreTestSuite) TestSaveStaleVersion() {
	e := newExpense("e-1", "emp", "Travel", model.StatusPending, day)
	require.NoError(suite.T(), suite.store.Create(suite.ctx, e))

	a, _ := suite.store.Get(suite.ctx, "e-1")
	b, _ := suite.store.Get(suite.ctx, "e-1")

	require.NoError(suite.T(), suite.store.Save(suite.ctx, a))
	err := suite.store.Save(suite.ctx, b)
	assert.True(suite.T(), errors.Is(err, model.ErrConcurrentModification), "got %v", err)
}

func (suite *StoreTestSuite) TestSaveRefusesHistoryRewrite() {
	e := newExpense("e-1", "emp", "Travel", model.StatusPending, day)
	e.ApprovalHistory = []model.AuditStep{{ApproverID: "mgr", Decision: model.Approve, Timestamp: day}}
	require.NoError(suite.T(), suite.store.Create(suite.ctx, e))

	shrunk, _ := suite.store.Get(suite.ctx, "e-1")
	shrunk.ApprovalHistory = nil
	assert.True(suite.T(), errors.Is(suite.store.Save(suite.ctx, shrunk), model.ErrValidation))

	rewritten, _ := suite.store.Get(suite.ctx, "e-1")
	rewritten.ApprovalHistory[0].Decision = model.Reject
	assert.True(suite.T(), errors.Is(suite.store.Save(suite.ctx, rewritten), model.ErrValidation))

	appended, _ := suite.store.Get(suite.ctx, "e-1")
	appended.ApprovalHistory = append(appended.ApprovalHistory, model.AuditStep{ApproverID: "fin", Decision: model.Approve, Timestamp: day.Add(time.Hour)})
	assert.NoError(suite.T(), suite.store.Save(suite.ctx, appended))
}

func (suite *StoreTestSuite) TestDelete() {
	e := newExpense("e-1", "emp", "Travel", model.StatusPending, day)
	require.NoError(suite.T(), suite.store.Create(suite.ctx, e))

	err := suite.store.Delete(suite.ctx, "e-1", 7)
	assert.True(suite.T(), errors.Is(err, model.ErrConcurrentModification), "got %v", err)

	require.NoError(suite.T(), suite.store.Delete(suite.ctx, "e-1", 1))
	_, err = suite.store.Get(suite.ctx, "e-1")
	assert.True(suite.T(), errors.Is(err, model.ErrNotFound))

	err = suite.store.Delete(suite.ctx, "e-1", 1)
	assert.True(suite.T(), errors.Is(err, model.ErrNotFound), "got %v", err)
}

func (suite *StoreTestSuite) TestListFiltersAndOrder() {
	fixtures := []*model.Expense{
		newExpense("a", "emp", "Travel", model.StatusPending, day),
		newExpense("b", "emp", "Meals", model.StatusApproved, day.AddDate(0, 0, 1)),
		newExpense("c", "boss", "travel", model.StatusEscalated, day.AddDate(0, 0, 2)),
		newExpense("d", "boss", "Office", model.StatusRejected, day.AddDate(0, 0, -3)),
	}
	for _, e := range fixtures {
		require.NoError(suite.T(), suite.store.Create(suite.ctx, e))
	}

	all, err := suite.store.List(suite.ctx, Filter{})
	require.NoError(suite.T(), err)
	require.Len(suite.T(), all, 4)
	assert.Equal(suite.T(), []string{"c", "b", "a", "d"}, ids(all), "expected date desc")

	open, _ := suite.store.List(suite.ctx, Filter{Statuses: []model.Status{model.StatusPending, model.StatusEscalated}})
	assert.ElementsMatch(suite.T(), []string{"a", "c"}, ids(open))

	mine, _ := suite.store.List(suite.ctx, Filter{SubmitterID: "emp"})
	assert.ElementsMatch(suite.T(), []string{"a", "b"}, ids(mine))

	travel, _ := suite.store.List(suite.ctx, Filter{Category: "TRAVEL"})
	assert.ElementsMatch(suite.T(), []string{"a", "c"}, ids(travel))

	ranged, _ := suite.store.List(suite.ctx, Filter{From: day, To: day.AddDate(0, 0, 1)})
	assert.ElementsMatch(suite.T(), []string{"a", "b"}, ids(ranged), "range is inclusive")

	limited, _ := suite.store.List(suite.ctx, Filter{Limit: 2})
	assert.Len(suite.T(), limited, 2)
}

func (suite *StoreTestSuite) TestReturnedCopiesAreIndependent() {
	require.NoError(suite.T(), suite.store.Create(suite.ctx, newExpense("e-1", "emp", "Travel", model.StatusPending, day)))
	got, _ := suite.store.Get(suite.ctx, "e-1")
	got.Description = "changed"
	again, _ := suite.store.Get(suite.ctx, "e-1")
	assert.Equal(suite.T(), "Taxi", again.Description)
}

func ids(list []*model.Expense) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{open: func(t *testing.T) Store { return NewMemory() }})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{open: func(t *testing.T) Store {
		db, err := NewSQLite(":memory:")
		require.NoError(t, err, "failed to create test database")
		return db
	}})
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	suite.Run(t, &StoreTestSuite{open: func(t *testing.T) Store {
		db, err := NewSQLite(filepath.Join(t.TempDir(), "spendgate.db"))
		require.NoError(t, err)
		return db
	}})
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{open: func(t *testing.T) Store {
		s, err := NewFile(t.TempDir())
		require.NoError(t, err)
		return s
	}})
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "../etc/passwd")
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestSQLiteVersionConflictAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	one, err := NewSQLite(path)
	require.NoError(t, err)
	defer one.Close()
	two, err := NewSQLite(path)
	require.NoError(t, err)
	defer two.Close()

	ctx := context.Background()
	require.NoError(t, one.Create(ctx, newExpense("e-1", "emp", "Travel", model.StatusPending, day)))

	a, err := one.Get(ctx, "e-1")
	require.NoError(t, err)
	b, err := two.Get(ctx, "e-1")
	require.NoError(t, err)

	require.NoError(t, one.Save(ctx, a))
	err = two.Save(ctx, b)
	assert.True(t, errors.Is(err, model.ErrConcurrentModification), "got %v", err)
}

func TestOpenKinds(t *testing.T) {
	s, err := Open(KindMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open("postgres", "")
	assert.Error(t, err)
}
