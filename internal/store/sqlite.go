package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/spendgate/internal/model"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a SQLite database file.
// Indexed columns serve List filters; the full expense is kept as JSON.
type SQLite struct {
	conn *sql.DB
}

// NewSQLite opens path (":memory:" works) and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store needs a path")
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection: :memory: databases are per-connection and
	// sqlite serializes writers anyway.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db := &SQLite{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	return db, nil
}

func (db *SQLite) migrate() error {
	migrations := []string{
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			submitter_id TEXT NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			date_unix INTEGER NOT NULL,
			created_unix INTEGER NOT NULL,
			version INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_status ON expenses(status)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_submitter ON expenses(submitter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_date ON expenses(date_unix DESC, created_unix DESC)`,
	}
	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *SQLite) Create(ctx context.Context, e *model.Expense) error {
	if err := checkCreate(e); err != nil {
		return err
	}
	e.Version = 1
	data, err := json.Marshal(e)
	if err != nil {
		e.Version = 0
		return fmt.Errorf("failed to encode expense: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO expenses (id, submitter_id, category, status, date_unix, created_unix, version, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SubmitterID, strings.ToLower(e.Category), string(e.Status),
		e.Date.UnixNano(), e.CreatedAt.UnixNano(), e.Version, string(data),
	)
	if err != nil {
		e.Version = 0
		if strings.Contains(err.Error(), "UNIQUE") {
			return model.Errorf(model.KindValidation, "expense %s already exists", e.ID)
		}
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

func (db *SQLite) Get(ctx context.Context, id string) (*model.Expense, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT data FROM expenses WHERE id = ?", id)
	return scanExpense(row, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner, id string) (*model.Expense, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to read expense: %w", err)
	}
	var e model.Expense
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("failed to decode expense %s: %w", id, err)
	}
	return &e, nil
}

func (db *SQLite) Save(ctx context.Context, e *model.Expense) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	stored, err := scanExpense(tx.QueryRowContext(ctx, "SELECT data FROM expenses WHERE id = ?", e.ID), e.ID)
	if err != nil {
		return err
	}
	if err := checkSave(stored, e); err != nil {
		return err
	}

	next := e.Clone()
	next.Version++
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode expense: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE expenses SET submitter_id = ?, category = ?, status = ?, date_unix = ?, version = ?, data = ?
		 WHERE id = ? AND version = ?`,
		next.SubmitterID, strings.ToLower(next.Category), string(next.Status), next.Date.UnixNano(),
		next.Version, string(data), e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Errorf(model.KindConcurrentModification, "expense %s changed concurrently", e.ID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	e.Version = next.Version
	return nil
}

func (db *SQLite) Delete(ctx context.Context, id string, version int64) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM expenses WHERE id = ? AND version = ?", id, version)
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := db.Get(ctx, id); err != nil {
		return err
	}
	return model.Errorf(model.KindConcurrentModification, "expense %s: version %d is stale", id, version)
}

func (db *SQLite) List(ctx context.Context, f Filter) ([]*model.Expense, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.SubmitterID != "" {
		where = append(where, "submitter_id = ?")
		args = append(args, f.SubmitterID)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, strings.ToLower(f.Category))
	}
	if !f.From.IsZero() {
		where = append(where, "date_unix >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		where = append(where, "date_unix <= ?")
		args = append(args, f.To.UnixNano())
	}

	q := "SELECT id, data FROM expenses"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY date_unix DESC, created_unix DESC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var out []*model.Expense
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var e model.Expense
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("failed to decode expense %s: %w", id, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}
