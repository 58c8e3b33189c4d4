// Package store defines the persistence port for trips and expenses.
// Backends live in subpackages and are selected at startup by the
// backend factory.
package store

import (
	"context"
	"errors"

	"splittrip/internal/core"
)

var (
	ErrTripNotFound    = errors.New("trip not found")
	ErrExpenseNotFound = errors.New("expense not found")
)

// Store is implemented by every storage backend. Implementations assign
// IDs and timestamps on create and return copies, so callers may mutate
// results freely.
type Store interface {
	// CreateTrip persists a new trip, filling in ID, CreatedAt and UpdatedAt.
	CreateTrip(ctx context.Context, t *core.Trip) error
	// GetTrip returns the trip with the given ID, or ErrTripNotFound.
	GetTrip(ctx context.Context, tripID string) (core.Trip, error)
	// ListTrips returns all trips, most recently updated first.
	ListTrips(ctx context.Context) ([]core.Trip, error)
	// UpdateTrip persists changes to an existing trip and bumps UpdatedAt.
	UpdateTrip(ctx context.Context, t *core.Trip) error
	// DeleteTrip removes a trip together with all of its expenses.
	DeleteTrip(ctx context.Context, tripID string) error

	// CreateExpense persists a new expense under an existing trip, filling
	// in ID and CreatedAt. The trip's UpdatedAt is left untouched.
	CreateExpense(ctx context.Context, e *core.Expense) error
	// GetExpense returns one expense of a trip, or ErrExpenseNotFound.
	GetExpense(ctx context.Context, tripID, expenseID string) (core.Expense, error)
	// ListExpenses returns a trip's expenses, newest first.
	ListExpenses(ctx context.Context, tripID string) ([]core.Expense, error)
	// DeleteExpense removes a single expense, or returns ErrExpenseNotFound.
	DeleteExpense(ctx context.Context, tripID, expenseID string) error
	// DeleteExpenses removes every expense of a trip.
	DeleteExpenses(ctx context.Context, tripID string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases resources held by the backend.
	Close() error
}
