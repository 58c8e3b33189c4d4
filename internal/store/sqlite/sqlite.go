// Package sqlite provides the SQLite storage backend on the pure Go
// driver. Member lists and PIN hashes live in JSON text columns;
// timestamps are epoch microseconds so the update ordering in ListTrips
// stays stable even for writes in quick succession.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"splittrip/internal/core"
	"splittrip/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens the database and
// runs migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateTrip(ctx context.Context, t *core.Trip) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	t.ID = uuid.New().String()
	t.CreatedAt = now
	t.UpdatedAt = now

	members, err := marshalNames(t.Members)
	if err != nil {
		return err
	}
	pins, err := marshalPINs(t.PINHashes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trips (id, name, currency, members, pin_hashes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Currency, members, pins, now.UnixMicro(), now.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (s *Store) GetTrip(ctx context.Context, tripID string) (core.Trip, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, currency, members, pin_hashes, created_at, updated_at
		 FROM trips WHERE id = ?`, tripID)

	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Trip{}, store.ErrTripNotFound
	}
	if err != nil {
		return core.Trip{}, fmt.Errorf("get trip: %w", err)
	}
	return t, nil
}

func (s *Store) ListTrips(ctx context.Context) ([]core.Trip, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, currency, members, pin_hashes, created_at, updated_at
		 FROM trips ORDER BY updated_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var out []core.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateTrip(ctx context.Context, t *core.Trip) error {
	members, err := marshalNames(t.Members)
	if err != nil {
		return err
	}
	pins, err := marshalPINs(t.PINHashes)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var createdUs int64
	err = tx.QueryRowContext(ctx, "SELECT created_at FROM trips WHERE id = ?", t.ID).Scan(&createdUs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTripNotFound
	}
	if err != nil {
		return fmt.Errorf("load trip: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE trips SET name = ?, currency = ?, members = ?, pin_hashes = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, t.Currency, members, pins, now.UnixMicro(), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update trip: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	t.CreatedAt = time.UnixMicro(createdUs).UTC()
	t.UpdatedAt = now
	return nil
}

func (s *Store) DeleteTrip(ctx context.Context, tripID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM trips WHERE id = ?", tripID)
	if err != nil {
		return fmt.Errorf("delete trip: %w", err)
	}
	// Expenses go with the trip via ON DELETE CASCADE.
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrTripNotFound
	}
	return nil
}

func (s *Store) CreateExpense(ctx context.Context, e *core.Expense) error {
	split, err := marshalNames(e.SplitBetween)
	if err != nil {
		return err
	}

	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tripExists(ctx, tx, e.TripID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, trip_id, description, amount_cents, paid_by, split_between, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TripID, e.Description, e.Amount.Cents, e.PaidBy, split, e.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetExpense(ctx context.Context, tripID, expenseID string) (core.Expense, error) {
	if err := tripExists(ctx, s.db, tripID); err != nil {
		return core.Expense{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, trip_id, description, amount_cents, paid_by, split_between, created_at
		 FROM expenses WHERE id = ? AND trip_id = ?`, expenseID, tripID)

	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, store.ErrExpenseNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (s *Store) ListExpenses(ctx context.Context, tripID string) ([]core.Expense, error) {
	if err := tripExists(ctx, s.db, tripID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trip_id, description, amount_cents, paid_by, split_between, created_at
		 FROM expenses WHERE trip_id = ? ORDER BY created_at DESC, rowid DESC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteExpense(ctx context.Context, tripID, expenseID string) error {
	if err := tripExists(ctx, s.db, tripID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM expenses WHERE id = ? AND trip_id = ?", expenseID, tripID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrExpenseNotFound
	}
	return nil
}

func (s *Store) DeleteExpenses(ctx context.Context, tripID string) error {
	if err := tripExists(ctx, s.db, tripID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM expenses WHERE trip_id = ?", tripID); err != nil {
		return fmt.Errorf("delete expenses: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tripExists(ctx context.Context, q querier, tripID string) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM trips WHERE id = ?", tripID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTripNotFound
	}
	if err != nil {
		return fmt.Errorf("check trip: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (core.Trip, error) {
	var (
		t                    core.Trip
		members, pins        string
		createdUs, updatedUs int64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Currency, &members, &pins, &createdUs, &updatedUs); err != nil {
		return core.Trip{}, err
	}

	var err error
	t.Members, err = unmarshalNames(members)
	if err != nil {
		return core.Trip{}, fmt.Errorf("members column: %w", err)
	}
	t.PINHashes, err = unmarshalPINs(pins)
	if err != nil {
		return core.Trip{}, fmt.Errorf("pin_hashes column: %w", err)
	}
	t.CreatedAt = time.UnixMicro(createdUs).UTC()
	t.UpdatedAt = time.UnixMicro(updatedUs).UTC()
	return t, nil
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e         core.Expense
		split     string
		createdUs int64
	)
	if err := row.Scan(&e.ID, &e.TripID, &e.Description, &e.Amount.Cents, &e.PaidBy, &split, &createdUs); err != nil {
		return core.Expense{}, err
	}

	var err error
	e.SplitBetween, err = unmarshalNames(split)
	if err != nil {
		return core.Expense{}, fmt.Errorf("split_between column: %w", err)
	}
	e.CreatedAt = time.UnixMicro(createdUs).UTC()
	return e, nil
}

func marshalNames(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	b, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("marshal names: %w", err)
	}
	return string(b), nil
}

func unmarshalNames(s string) ([]string, error) {
	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return nil, fmt.Errorf("unmarshal names: %w", err)
	}
	return names, nil
}

func marshalPINs(pins map[string]string) (string, error) {
	if len(pins) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(pins)
	if err != nil {
		return "", fmt.Errorf("marshal pin hashes: %w", err)
	}
	return string(b), nil
}

func unmarshalPINs(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var pins map[string]string
	if err := json.Unmarshal([]byte(s), &pins); err != nil {
		return nil, fmt.Errorf("unmarshal pin hashes: %w", err)
	}
	return pins, nil
}
