package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"splittrip/internal/amqp"
	"splittrip/internal/auth"
	"splittrip/internal/core"
	"splittrip/internal/store"
	"splittrip/internal/store/memory"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*amqp.ExpenseEvent
	err    error
}

func (p *capturePublisher) PublishExpenseEvent(_ context.Context, e *amqp.ExpenseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) captured() []*amqp.ExpenseEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.ExpenseEvent(nil), p.events...)
}

// countingStore counts expense listings so tests can observe caching.
type countingStore struct {
	store.Store
	listExpenses atomic.Int64
}

func (c *countingStore) ListExpenses(ctx context.Context, tripID string) ([]core.Expense, error) {
	c.listExpenses.Add(1)
	return c.Store.ListExpenses(ctx, tripID)
}

func newTestService(t *testing.T) (*TripService, *capturePublisher) {
	t.Helper()
	publisher := &capturePublisher{}
	svc := NewTripService(memory.New(), Options{Publisher: publisher})
	return svc, publisher
}

func seedTrip(t *testing.T, svc *TripService, name string) core.Trip {
	t.Helper()
	trip, err := svc.CreateTrip(context.Background(), CreateTripInput{
		Name:    name,
		Members: []string{"Alice", "Bob", "Carol", "Dave"},
	})
	if err != nil {
		t.Fatalf("seed trip %q: %v", name, err)
	}
	return trip
}

func TestCreateTripDefaultsAndValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	trip, err := svc.CreateTrip(ctx, CreateTripInput{
		Name:    "  Goa 2026  ",
		Members: []string{" Alice ", "Bob", "Carol", "Dave"},
	})
	if err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}
	if trip.ID == "" {
		t.Error("expected an assigned ID")
	}
	if trip.Name != "Goa 2026" {
		t.Errorf("Name = %q, want trimmed %q", trip.Name, "Goa 2026")
	}
	if trip.Currency != core.DefaultCurrency {
		t.Errorf("Currency = %q, want default %q", trip.Currency, core.DefaultCurrency)
	}
	if trip.Members[0] != "Alice" {
		t.Errorf("Members[0] = %q, want trimmed %q", trip.Members[0], "Alice")
	}

	if _, err := svc.CreateTrip(ctx, CreateTripInput{Members: []string{"A", "B", "C", "D"}}); !errors.Is(err, core.ErrTripNameRequired) {
		t.Errorf("missing name: got %v, want ErrTripNameRequired", err)
	}
	if _, err := svc.CreateTrip(ctx, CreateTripInput{Name: "x", Members: []string{"A", "B", "C"}}); !errors.Is(err, core.ErrTooFewMembers) {
		t.Errorf("three members: got %v, want ErrTooFewMembers", err)
	}
	// A blank entry does not count towards the minimum.
	if _, err := svc.CreateTrip(ctx, CreateTripInput{Name: "x", Members: []string{"A", "B", "C", "  "}}); !errors.Is(err, core.ErrTooFewMembers) {
		t.Errorf("blank fourth member: got %v, want ErrTooFewMembers", err)
	}
}

func TestCreateTripHashesPINs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	trip, err := svc.CreateTrip(ctx, CreateTripInput{
		Name:       "Alps",
		Members:    []string{"Alice", "Bob", "Carol", "Dave"},
		MemberPINs: map[string]string{"Alice": "1234"},
	})
	if err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}
	hash, ok := trip.PINHashes["Alice"]
	if !ok {
		t.Fatal("expected a PIN hash for Alice")
	}
	if err := auth.VerifyPIN(hash, "1234"); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}

	_, err = svc.CreateTrip(ctx, CreateTripInput{
		Name:       "Alps",
		Members:    []string{"Alice", "Bob", "Carol", "Dave"},
		MemberPINs: map[string]string{"Mallory": "1234"},
	})
	if !errors.Is(err, auth.ErrPINForNonMember) {
		t.Errorf("PIN for stranger: got %v, want ErrPINForNonMember", err)
	}
}

func TestUpdateTripPartialFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	trip := seedTrip(t, svc, "Original")

	updated, cleared, err := svc.UpdateTrip(ctx, trip.ID, UpdateTripInput{Name: "Renamed"})
	if err != nil {
		t.Fatalf("UpdateTrip failed: %v", err)
	}
	if cleared {
		t.Error("rename must not clear expenses")
	}
	if updated.Name != "Renamed" {
		t.Errorf("Name = %q, want %q", updated.Name, "Renamed")
	}
	if updated.Currency != trip.Currency {
		t.Errorf("Currency changed to %q on a name-only update", updated.Currency)
	}
	if len(updated.Members) != 4 {
		t.Errorf("Members changed on a name-only update: %v", updated.Members)
	}

	// Empty input keeps everything.
	same, _, err := svc.UpdateTrip(ctx, trip.ID, UpdateTripInput{})
	if err != nil {
		t.Fatalf("empty update failed: %v", err)
	}
	if same.Name != "Renamed" {
		t.Errorf("empty update changed name to %q", same.Name)
	}

	if _, _, err := svc.UpdateTrip(ctx, "missing", UpdateTripInput{Name: "x"}); !errors.Is(err, store.ErrTripNotFound) {
		t.Errorf("unknown trip: got %v, want ErrTripNotFound", err)
	}
}

func TestUpdateTripMemberChange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	trip, err := svc.CreateTrip(ctx, CreateTripInput{
		Name:       "Beach",
		Members:    []string{"Alice", "Bob", "Carol", "Dave"},
		MemberPINs: map[string]string{"Alice": "1111", "Bob": "2222"},
	})
	if err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}
	if _, err := svc.AddExpense(ctx, trip.ID, CreateExpenseInput{
		Description:  "Dinner",
		Amount:       core.Money{Cents: 10000},
		PaidBy:       "Alice",
		SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
	}); err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}

	newMembers := []string{"Alice", "Carol", "Dave", "Erin"}

	t.Run("needs confirmation", func(t *testing.T) {
		_, _, err := svc.UpdateTrip(ctx, trip.ID, UpdateTripInput{Members: newMembers})
		if !errors.Is(err, ErrMemberChangeNeedsConfirm) {
			t.Fatalf("got %v, want ErrMemberChangeNeedsConfirm", err)
		}
	})

	t.Run("same set reordered needs no confirmation", func(t *testing.T) {
		updated, cleared, err := svc.UpdateTrip(ctx, trip.ID, UpdateTripInput{
			Members: []string{"Dave", "Carol", "Bob", "Alice"},
		})
		if err != nil {
			t.Fatalf("reorder failed: %v", err)
		}
		if cleared {
			t.Error("reorder must not clear expenses")
		}
		if updated.Members[0] != "Dave" {
			t.Errorf("member order not updated: %v", updated.Members)
		}
		expenses, err := svc.ListExpenses(ctx, trip.ID)
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(expenses) != 1 {
			t.Errorf("expected 1 expense after reorder, got %d", len(expenses))
		}
	})

	t.Run("confirmed change clears expenses", func(t *testing.T) {
		updated, cleared, err := svc.UpdateTrip(ctx, trip.ID, UpdateTripInput{
			Members:              newMembers,
			ConfirmClearExpenses: true,
		})
		if err != nil {
			t.Fatalf("confirmed update failed: %v", err)
		}
		if !cleared {
			t.Error("expected expenses to be cleared")
		}
		expenses, err := svc.ListExpenses(ctx, trip.ID)
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(expenses) != 0 {
			t.Errorf("expected no expenses, got %d", len(expenses))
		}
		if _, ok := updated.PINHashes["Alice"]; !ok {
			t.Error("Alice stayed a member, her PIN hash must survive")
		}
		if _, ok := updated.PINHashes["Bob"]; ok {
			t.Error("Bob left the trip, his PIN hash must be dropped")
		}
	})

	t.Run("shrinking below minimum fails", func(t *testing.T) {
		_, _, err := svc.UpdateTrip(ctx, trip.ID, UpdateTripInput{
			Members:              []string{"Alice", "Carol", "Dave"},
			ConfirmClearExpenses: true,
		})
		if !errors.Is(err, core.ErrTooFewMembers) {
			t.Errorf("got %v, want ErrTooFewMembers", err)
		}
	})
}

func TestAddExpenseValidatesMembership(t *testing.T) {
	svc, publisher := newTestService(t)
	ctx := context.Background()
	trip := seedTrip(t, svc, "Roadtrip")

	if _, err := svc.AddExpense(ctx, trip.ID, CreateExpenseInput{
		Description:  "Fuel",
		Amount:       core.Money{Cents: 5000},
		PaidBy:       "Mallory",
		SplitBetween: []string{"Alice", "Bob"},
	}); !errors.Is(err, core.ErrPayerNotMember) {
		t.Errorf("stranger payer: got %v, want ErrPayerNotMember", err)
	}

	if _, err := svc.AddExpense(ctx, trip.ID, CreateExpenseInput{
		Description:  "Fuel",
		Amount:       core.Money{Cents: 5000},
		PaidBy:       "Alice",
		SplitBetween: []string{"Alice", "Mallory"},
	}); !errors.Is(err, core.ErrSplitterNotMember) {
		t.Errorf("stranger in split: got %v, want ErrSplitterNotMember", err)
	}

	expense, err := svc.AddExpense(ctx, trip.ID, CreateExpenseInput{
		Description:  "  Fuel  ",
		Amount:       core.Money{Cents: 5000},
		PaidBy:       "Alice",
		SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
	})
	if err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}
	if expense.ID == "" {
		t.Error("expected an assigned expense ID")
	}
	if expense.Description != "Fuel" {
		t.Errorf("Description = %q, want trimmed %q", expense.Description, "Fuel")
	}

	events := publisher.captured()
	if len(events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(events))
	}
	if events[0].Type != amqp.EventExpenseCreated {
		t.Errorf("event type = %q, want %q", events[0].Type, amqp.EventExpenseCreated)
	}
	if events[0].TripName != "Roadtrip" {
		t.Errorf("event trip name = %q, want %q", events[0].TripName, "Roadtrip")
	}
}

func TestDeleteExpensePublishesDeletedEvent(t *testing.T) {
	svc, publisher := newTestService(t)
	ctx := context.Background()
	trip := seedTrip(t, svc, "Roadtrip")

	expense, err := svc.AddExpense(ctx, trip.ID, CreateExpenseInput{
		Description:  "Tolls",
		Amount:       core.Money{Cents: 1200},
		PaidBy:       "Bob",
		SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
	})
	if err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}

	if err := svc.DeleteExpense(ctx, trip.ID, expense.ID); err != nil {
		t.Fatalf("DeleteExpense failed: %v", err)
	}
	if err := svc.DeleteExpense(ctx, trip.ID, expense.ID); !errors.Is(err, store.ErrExpenseNotFound) {
		t.Errorf("second delete: got %v, want ErrExpenseNotFound", err)
	}

	events := publisher.captured()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	deleted := events[1]
	if deleted.Type != amqp.EventExpenseDeleted {
		t.Errorf("event type = %q, want %q", deleted.Type, amqp.EventExpenseDeleted)
	}
	if deleted.Expense.ID != expense.ID {
		t.Errorf("event expense ID = %q, want %q", deleted.Expense.ID, expense.ID)
	}
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	publisher := &capturePublisher{err: errors.New("broker down")}
	svc := NewTripService(memory.New(), Options{Publisher: publisher})
	ctx := context.Background()
	trip := seedTrip(t, svc, "Roadtrip")

	if _, err := svc.AddExpense(ctx, trip.ID, CreateExpenseInput{
		Description:  "Snacks",
		Amount:       core.Money{Cents: 800},
		PaidBy:       "Carol",
		SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
	}); err != nil {
		t.Fatalf("AddExpense must succeed when the broker is down: %v", err)
	}

	expenses, err := svc.ListExpenses(ctx, trip.ID)
	if err != nil {
		t.Fatalf("ListExpenses failed: %v", err)
	}
	if len(expenses) != 1 {
		t.Errorf("expected the expense to be persisted, got %d", len(expenses))
	}
}

func TestGetBalanceReportComputesAndCaches(t *testing.T) {
	counting := &countingStore{Store: memory.New()}
	svc := NewTripService(counting, Options{})
	ctx := context.Background()
	trip := seedTrip(t, svc, "Goa")

	if _, err := svc.AddExpense(ctx, trip.ID, CreateExpenseInput{
		Description:  "Villa",
		Amount:       core.Money{Cents: 10000},
		PaidBy:       "Alice",
		SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
	}); err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}

	report, err := svc.GetBalanceReport(ctx, trip.ID)
	if err != nil {
		t.Fatalf("GetBalanceReport failed: %v", err)
	}
	if got := report.Balances["Alice"].Cents; got != 7500 {
		t.Errorf("Alice's balance = %d cents, want 7500", got)
	}
	if got := report.Balances["Bob"].Cents; got != -2500 {
		t.Errorf("Bob's balance = %d cents, want -2500", got)
	}
	if len(report.Settlements) != 3 {
		t.Errorf("expected 3 settlements, got %d", len(report.Settlements))
	}
	for _, s := range report.Settlements {
		if s.To != "Alice" || s.Amount.Cents != 2500 {
			t.Errorf("unexpected settlement %+v", s)
		}
	}

	calls := counting.listExpenses.Load()
	if _, err := svc.GetBalanceReport(ctx, trip.ID); err != nil {
		t.Fatalf("second GetBalanceReport failed: %v", err)
	}
	if counting.listExpenses.Load() != calls {
		t.Error("second report must come from the cache")
	}

	// A mutation invalidates the cached report.
	if _, err := svc.AddExpense(ctx, trip.ID, CreateExpenseInput{
		Description:  "Taxi",
		Amount:       core.Money{Cents: 2000},
		PaidBy:       "Bob",
		SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
	}); err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}
	calls = counting.listExpenses.Load()
	if _, err := svc.GetBalanceReport(ctx, trip.ID); err != nil {
		t.Fatalf("third GetBalanceReport failed: %v", err)
	}
	if counting.listExpenses.Load() != calls+1 {
		t.Error("report after a mutation must be recomputed")
	}
}

func TestListTripsWithSummaries(t *testing.T) {
	counting := &countingStore{Store: memory.New()}
	svc := NewTripService(counting, Options{})
	ctx := context.Background()

	first := seedTrip(t, svc, "First")
	second := seedTrip(t, svc, "Second")
	if _, err := svc.AddExpense(ctx, second.ID, CreateExpenseInput{
		Description:  "Hotel",
		Amount:       core.Money{Cents: 40000},
		PaidBy:       "Alice",
		SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
	}); err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}

	overviews, err := svc.ListTrips(ctx)
	if err != nil {
		t.Fatalf("ListTrips failed: %v", err)
	}
	if len(overviews) != 2 {
		t.Fatalf("expected 2 trips, got %d", len(overviews))
	}
	if overviews[0].Trip.ID != second.ID {
		t.Errorf("most recently created trip must list first, got %q", overviews[0].Trip.Name)
	}
	if overviews[0].Summary.ExpenseCount != 1 || overviews[0].Summary.Total.Cents != 40000 {
		t.Errorf("summary = %+v, want 1 expense totaling 40000 cents", overviews[0].Summary)
	}
	if overviews[1].Summary.ExpenseCount != 0 {
		t.Errorf("empty trip summary = %+v, want zero", overviews[1].Summary)
	}
	_ = first

	calls := counting.listExpenses.Load()
	if _, err := svc.ListTrips(ctx); err != nil {
		t.Fatalf("second ListTrips failed: %v", err)
	}
	if counting.listExpenses.Load() != calls {
		t.Error("second listing must serve summaries from the cache")
	}
}

func TestExportCSVOldestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	trip := seedTrip(t, svc, "Goa")

	for _, desc := range []string{"First", "Second"} {
		if _, err := svc.AddExpense(ctx, trip.ID, CreateExpenseInput{
			Description:  desc,
			Amount:       core.Money{Cents: 1000},
			PaidBy:       "Alice",
			SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
		}); err != nil {
			t.Fatalf("AddExpense %s failed: %v", desc, err)
		}
	}

	var buf bytes.Buffer
	got, err := svc.ExportCSV(ctx, trip.ID, &buf)
	if err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}
	if got.ID != trip.ID {
		t.Errorf("returned trip ID = %q, want %q", got.ID, trip.ID)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parsing exported CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}
	if records[1][1] != "First" || records[2][1] != "Second" {
		t.Errorf("rows not oldest first: %q then %q", records[1][1], records[2][1])
	}
	if records[1][0] != "Goa" {
		t.Errorf("trip column = %q, want %q", records[1][0], "Goa")
	}
}

func TestImportExpenses(t *testing.T) {
	svc, publisher := newTestService(t)
	ctx := context.Background()
	trip := seedTrip(t, svc, "Goa")

	input := strings.Join([]string{
		"trip,description,amount,paid_by,split_between,timestamp",
		"Goa,Dinner,120.00,Alice,Alice|Bob|Carol|Dave,1700000000000",
		"Goa,Broken,not-a-number,Alice,Alice|Bob,1700000000000",
		"Goa,Taxi,45.50,Bob,Alice|Bob,1700000000001",
		"Goa,Stranger,10.00,Mallory,Alice|Bob,1700000000002",
	}, "\n")

	result, err := svc.ImportExpenses(ctx, trip.ID, strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportExpenses failed: %v", err)
	}
	if result.Imported != 2 {
		t.Errorf("Imported = %d, want 2", result.Imported)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 row errors, got %d: %+v", len(result.Errors), result.Errors)
	}
	if result.Errors[0].Line != 3 || result.Errors[1].Line != 5 {
		t.Errorf("error lines = %d, %d, want 3 and 5", result.Errors[0].Line, result.Errors[1].Line)
	}

	expenses, err := svc.ListExpenses(ctx, trip.ID)
	if err != nil {
		t.Fatalf("ListExpenses failed: %v", err)
	}
	if len(expenses) != 2 {
		t.Errorf("expected 2 stored expenses, got %d", len(expenses))
	}
	if len(publisher.captured()) != 2 {
		t.Errorf("expected 2 published events, got %d", len(publisher.captured()))
	}

	if _, err := svc.ImportExpenses(ctx, "missing", strings.NewReader(input)); !errors.Is(err, store.ErrTripNotFound) {
		t.Errorf("unknown trip: got %v, want ErrTripNotFound", err)
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled without token manager", func(t *testing.T) {
		svc, _ := newTestService(t)
		trip := seedTrip(t, svc, "Goa")
		if _, _, err := svc.Login(ctx, trip.ID, "Alice", "1234"); !errors.Is(err, ErrAuthDisabled) {
			t.Errorf("got %v, want ErrAuthDisabled", err)
		}
	})

	tokens := auth.NewJWTManager("login-test-secret", time.Hour)
	svc := NewTripService(memory.New(), Options{Tokens: tokens})
	trip, err := svc.CreateTrip(ctx, CreateTripInput{
		Name:       "Goa",
		Members:    []string{"Alice", "Bob", "Carol", "Dave"},
		MemberPINs: map[string]string{"Alice": "4812"},
	})
	if err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}

	t.Run("valid credentials", func(t *testing.T) {
		token, expiresAt, err := svc.Login(ctx, trip.ID, "Alice", "4812")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if time.Until(expiresAt) <= 0 {
			t.Error("token already expired")
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			t.Fatalf("issued token does not validate: %v", err)
		}
		if claims.TripID != trip.ID || claims.Member != "Alice" {
			t.Errorf("claims = (%q, %q), want (%q, Alice)", claims.TripID, claims.Member, trip.ID)
		}
	})

	t.Run("wrong PIN", func(t *testing.T) {
		if _, _, err := svc.Login(ctx, trip.ID, "Alice", "0000"); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Errorf("got %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("member without PIN", func(t *testing.T) {
		if _, _, err := svc.Login(ctx, trip.ID, "Bob", "4812"); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Errorf("got %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("unknown trip", func(t *testing.T) {
		if _, _, err := svc.Login(ctx, "missing", "Alice", "4812"); !errors.Is(err, store.ErrTripNotFound) {
			t.Errorf("got %v, want ErrTripNotFound", err)
		}
	})
}
