// Package postgres provides the PostgreSQL storage backend on pgx.
// Member lists and PIN hashes live in jsonb columns. The schema is
// ensured at open, so a fresh database works without manual setup.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"splittrip/internal/core"
	"splittrip/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trips (
			id         TEXT PRIMARY KEY,
			seq        BIGSERIAL,
			name       TEXT NOT NULL,
			currency   TEXT NOT NULL,
			members    JSONB NOT NULL,
			pin_hashes JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trips_updated_at ON trips(updated_at DESC);

		CREATE TABLE IF NOT EXISTS expenses (
			id            TEXT PRIMARY KEY,
			seq           BIGSERIAL,
			trip_id       TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
			description   TEXT NOT NULL,
			amount_cents  BIGINT NOT NULL,
			paid_by       TEXT NOT NULL,
			split_between JSONB NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_expenses_trip_created ON expenses(trip_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) CreateTrip(ctx context.Context, t *core.Trip) error {
	// timestamptz resolution is one microsecond; truncate so the value
	// written equals the value read back.
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO trips (id, name, currency, members, pin_hashes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Currency, members, pins, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (s *Store) GetTrip(ctx context.Context, tripID string) (core.Trip, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, currency, members::text, pin_hashes::text, created_at, updated_at
		 FROM trips WHERE id = $1`, tripID)

	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Trip{}, store.ErrTripNotFound
	}
	if err != nil {
		return core.Trip{}, fmt.Errorf("get trip: %w", err)
	}
	return t, nil
}

func (s *Store) ListTrips(ctx context.Context) ([]core.Trip, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, currency, members::text, pin_hashes::text, created_at, updated_at
		 FROM trips ORDER BY updated_at DESC, seq DESC`)
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

	var createdAt time.Time
	err = s.pool.QueryRow(ctx,
		`UPDATE trips SET name = $1, currency = $2, members = $3, pin_hashes = $4, updated_at = $5
		 WHERE id = $6
		 RETURNING created_at`,
		t.Name, t.Currency, members, pins, now, t.ID,
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrTripNotFound
	}
	if err != nil {
		return fmt.Errorf("update trip: %w", err)
	}

	t.CreatedAt = createdAt.UTC()
	t.UpdatedAt = now
	return nil
}

func (s *Store) DeleteTrip(ctx context.Context, tripID string) error {
	ct, err := s.pool.Exec(ctx, "DELETE FROM trips WHERE id = $1", tripID)
	if err != nil {
		return fmt.Errorf("delete trip: %w", err)
	}
	// Expenses go with the trip via ON DELETE CASCADE.
	if ct.RowsAffected() == 0 {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tripExists(ctx, tx, e.TripID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO expenses (id, trip_id, description, amount_cents, paid_by, split_between, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.TripID, e.Description, e.Amount.Cents, e.PaidBy, split, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetExpense(ctx context.Context, tripID, expenseID string) (core.Expense, error) {
	if err := tripExists(ctx, s.pool, tripID); err != nil {
		return core.Expense{}, err
	}

	row := s.pool.QueryRow(ctx,
		`SELECT id, trip_id, description, amount_cents, paid_by, split_between::text, created_at
		 FROM expenses WHERE id = $1 AND trip_id = $2`, expenseID, tripID)

	e, err := scanExpense(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Expense{}, store.ErrExpenseNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (s *Store) ListExpenses(ctx context.Context, tripID string) ([]core.Expense, error) {
	if err := tripExists(ctx, s.pool, tripID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, trip_id, description, amount_cents, paid_by, split_between::text, created_at
		 FROM expenses WHERE trip_id = $1 ORDER BY created_at DESC, seq DESC`, tripID)
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
	if err := tripExists(ctx, s.pool, tripID); err != nil {
		return err
	}

	ct, err := s.pool.Exec(ctx,
		"DELETE FROM expenses WHERE id = $1 AND trip_id = $2", expenseID, tripID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrExpenseNotFound
	}
	return nil
}

func (s *Store) DeleteExpenses(ctx context.Context, tripID string) error {
	if err := tripExists(ctx, s.pool, tripID); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, "DELETE FROM expenses WHERE trip_id = $1", tripID); err != nil {
		return fmt.Errorf("delete expenses: %w", err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func tripExists(ctx context.Context, q querier, tripID string) error {
	var one int
	err := q.QueryRow(ctx, "SELECT 1 FROM trips WHERE id = $1", tripID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
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
		t             core.Trip
		members, pins string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Currency, &members, &pins, &t.CreatedAt, &t.UpdatedAt); err != nil {
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
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e     core.Expense
		split string
	)
	if err := row.Scan(&e.ID, &e.TripID, &e.Description, &e.Amount.Cents, &e.PaidBy, &split, &e.CreatedAt); err != nil {
		return core.Expense{}, err
	}

	var err error
	e.SplitBetween, err = unmarshalNames(split)
	if err != nil {
		return core.Expense{}, fmt.Errorf("split_between column: %w", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
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
