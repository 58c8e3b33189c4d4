package memory

import (
	"context"
	"errors"
	"testing"

	"splittrip/internal/core"
	"splittrip/internal/store"
)

func testTrip(name string) core.Trip {
	return core.Trip{
		Name:     name,
		Currency: core.DefaultCurrency,
		Members:  []string{"Alice", "Bob", "Carol", "Dave"},
	}
}

func testExpense(tripID, desc string, cents int64) core.Expense {
	return core.Expense{
		TripID:       tripID,
		Description:  desc,
		Amount:       core.Money{Cents: cents},
		PaidBy:       "Alice",
		SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
	}
}

func TestCreateAndGetTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	trip := testTrip("Goa")
	if err := s.CreateTrip(ctx, &trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if trip.ID == "" || trip.CreatedAt.IsZero() || trip.UpdatedAt.IsZero() {
		t.Fatalf("create did not fill in ID and timestamps: %+v", trip)
	}

	got, err := s.GetTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if got.Name != "Goa" || len(got.Members) != 4 {
		t.Fatalf("unexpected trip: %+v", got)
	}

	// Mutating the returned copy must not leak into the store.
	got.Members[0] = "Mallory"
	again, err := s.GetTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("get trip again: %v", err)
	}
	if again.Members[0] != "Alice" {
		t.Fatalf("store leaked internal state: %v", again.Members)
	}
}

func TestGetTripNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetTrip(context.Background(), "missing"); !errors.Is(err, store.ErrTripNotFound) {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
}

func TestListTripsMostRecentlyUpdatedFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := testTrip("first")
	second := testTrip("second")
	third := testTrip("third")
	for _, tr := range []*core.Trip{&first, &second, &third} {
		if err := s.CreateTrip(ctx, tr); err != nil {
			t.Fatalf("create trip: %v", err)
		}
	}

	// Touching the oldest trip moves it to the front.
	first.Name = "first renamed"
	if err := s.UpdateTrip(ctx, &first); err != nil {
		t.Fatalf("update trip: %v", err)
	}

	trips, err := s.ListTrips(ctx)
	if err != nil {
		t.Fatalf("list trips: %v", err)
	}
	if len(trips) != 3 {
		t.Fatalf("expected 3 trips, got %d", len(trips))
	}
	if trips[0].Name != "first renamed" || trips[1].Name != "third" || trips[2].Name != "second" {
		t.Fatalf("unexpected order: %q, %q, %q", trips[0].Name, trips[1].Name, trips[2].Name)
	}
}

func TestUpdateTripPreservesCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()

	trip := testTrip("Goa")
	if err := s.CreateTrip(ctx, &trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	createdAt := trip.CreatedAt

	update := trip
	update.Name = "Goa 2026"
	update.CreatedAt = createdAt.AddDate(-1, 0, 0) // callers cannot rewrite history
	if err := s.UpdateTrip(ctx, &update); err != nil {
		t.Fatalf("update trip: %v", err)
	}

	got, err := s.GetTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if got.Name != "Goa 2026" {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Fatalf("CreatedAt changed: was %v, now %v", createdAt, got.CreatedAt)
	}
	if got.UpdatedAt.Before(createdAt) {
		t.Fatalf("UpdatedAt went backwards: %v < %v", got.UpdatedAt, createdAt)
	}
}

func TestUpdateTripNotFound(t *testing.T) {
	s := New()
	trip := testTrip("ghost")
	trip.ID = "missing"
	if err := s.UpdateTrip(context.Background(), &trip); !errors.Is(err, store.ErrTripNotFound) {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
}

func TestDeleteTripCascades(t *testing.T) {
	s := New()
	ctx := context.Background()

	trip := testTrip("Goa")
	if err := s.CreateTrip(ctx, &trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	exp := testExpense(trip.ID, "hotel", 100000)
	if err := s.CreateExpense(ctx, &exp); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	if err := s.DeleteTrip(ctx, trip.ID); err != nil {
		t.Fatalf("delete trip: %v", err)
	}
	if _, err := s.GetTrip(ctx, trip.ID); !errors.Is(err, store.ErrTripNotFound) {
		t.Fatalf("trip still present after delete: %v", err)
	}
	if _, err := s.ListExpenses(ctx, trip.ID); !errors.Is(err, store.ErrTripNotFound) {
		t.Fatalf("expenses survived trip delete: %v", err)
	}
	if err := s.DeleteTrip(ctx, trip.ID); !errors.Is(err, store.ErrTripNotFound) {
		t.Fatalf("second delete should report ErrTripNotFound, got %v", err)
	}
}

func TestCreateExpenseRequiresTrip(t *testing.T) {
	s := New()
	exp := testExpense("missing", "hotel", 100000)
	if err := s.CreateExpense(context.Background(), &exp); !errors.Is(err, store.ErrTripNotFound) {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
}

func TestListExpensesNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	trip := testTrip("Goa")
	if err := s.CreateTrip(ctx, &trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	for _, desc := range []string{"flights", "hotel", "dinner"} {
		exp := testExpense(trip.ID, desc, 5000)
		if err := s.CreateExpense(ctx, &exp); err != nil {
			t.Fatalf("create expense %q: %v", desc, err)
		}
		if exp.ID == "" || exp.CreatedAt.IsZero() {
			t.Fatalf("create did not fill in ID and CreatedAt: %+v", exp)
		}
	}

	expenses, err := s.ListExpenses(ctx, trip.ID)
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	if len(expenses) != 3 {
		t.Fatalf("expected 3 expenses, got %d", len(expenses))
	}
	if expenses[0].Description != "dinner" || expenses[1].Description != "hotel" || expenses[2].Description != "flights" {
		t.Fatalf("unexpected order: %q, %q, %q",
			expenses[0].Description, expenses[1].Description, expenses[2].Description)
	}
}

func TestGetAndDeleteExpense(t *testing.T) {
	s := New()
	ctx := context.Background()

	trip := testTrip("Goa")
	if err := s.CreateTrip(ctx, &trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	exp := testExpense(trip.ID, "hotel", 100000)
	if err := s.CreateExpense(ctx, &exp); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	got, err := s.GetExpense(ctx, trip.ID, exp.ID)
	if err != nil || got.Description != "hotel" {
		t.Fatalf("get expense: %+v err=%v", got, err)
	}

	if err := s.DeleteExpense(ctx, trip.ID, exp.ID); err != nil {
		t.Fatalf("delete expense: %v", err)
	}
	if _, err := s.GetExpense(ctx, trip.ID, exp.ID); !errors.Is(err, store.ErrExpenseNotFound) {
		t.Fatalf("expected ErrExpenseNotFound, got %v", err)
	}
	if err := s.DeleteExpense(ctx, trip.ID, exp.ID); !errors.Is(err, store.ErrExpenseNotFound) {
		t.Fatalf("second delete should report ErrExpenseNotFound, got %v", err)
	}
}

func TestDeleteExpensesClearsTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	trip := testTrip("Goa")
	if err := s.CreateTrip(ctx, &trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	for i := 0; i < 3; i++ {
		exp := testExpense(trip.ID, "expense", 5000)
		if err := s.CreateExpense(ctx, &exp); err != nil {
			t.Fatalf("create expense: %v", err)
		}
	}

	if err := s.DeleteExpenses(ctx, trip.ID); err != nil {
		t.Fatalf("delete expenses: %v", err)
	}
	expenses, err := s.ListExpenses(ctx, trip.ID)
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	if len(expenses) != 0 {
		t.Fatalf("expected no expenses, got %d", len(expenses))
	}
}
