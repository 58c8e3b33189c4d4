// Package memory provides the in-memory storage backend. It is the
// default backend and the one the service tests run against.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"splittrip/internal/core"
	"splittrip/internal/store"
)

var _ store.Store = (*Store)(nil)

type tripRecord struct {
	trip core.Trip
	seq  int64
}

type Store struct {
	mu       sync.Mutex
	trips    map[string]tripRecord
	expenses map[string][]core.Expense // per trip, in insertion order
	nextSeq  int64
}

func New() *Store {
	return &Store{
		trips:    make(map[string]tripRecord),
		expenses: make(map[string][]core.Expense),
	}
}

// CreateTrip assigns an ID and timestamps, then stores a copy of the trip.
func (s *Store) CreateTrip(_ context.Context, t *core.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	t.ID = uuid.New().String()
	t.CreatedAt = now
	t.UpdatedAt = now

	s.nextSeq++
	s.trips[t.ID] = tripRecord{trip: cloneTrip(*t), seq: s.nextSeq}
	return nil
}

func (s *Store) GetTrip(_ context.Context, tripID string) (core.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.trips[tripID]
	if !ok {
		return core.Trip{}, store.ErrTripNotFound
	}
	return cloneTrip(rec.trip), nil
}

// ListTrips returns all trips, most recently updated first. Ties fall
// back to write order, newest first, so the result is deterministic.
func (s *Store) ListTrips(_ context.Context) ([]core.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]tripRecord, 0, len(s.trips))
	for _, rec := range s.trips {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].trip.UpdatedAt.Equal(recs[j].trip.UpdatedAt) {
			return recs[i].trip.UpdatedAt.After(recs[j].trip.UpdatedAt)
		}
		return recs[i].seq > recs[j].seq
	})

	out := make([]core.Trip, len(recs))
	for i, rec := range recs {
		out[i] = cloneTrip(rec.trip)
	}
	return out, nil
}

// UpdateTrip replaces the stored trip and bumps UpdatedAt.
func (s *Store) UpdateTrip(_ context.Context, t *core.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.trips[t.ID]
	if !ok {
		return store.ErrTripNotFound
	}

	t.CreatedAt = rec.trip.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	s.nextSeq++
	s.trips[t.ID] = tripRecord{trip: cloneTrip(*t), seq: s.nextSeq}
	return nil
}

func (s *Store) DeleteTrip(_ context.Context, tripID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[tripID]; !ok {
		return store.ErrTripNotFound
	}
	delete(s.trips, tripID)
	delete(s.expenses, tripID)
	return nil
}

// CreateExpense assigns an ID and CreatedAt, then stores a copy of the
// expense under its trip.
func (s *Store) CreateExpense(_ context.Context, e *core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[e.TripID]; !ok {
		return store.ErrTripNotFound
	}

	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC()
	s.expenses[e.TripID] = append(s.expenses[e.TripID], cloneExpense(*e))
	return nil
}

func (s *Store) GetExpense(_ context.Context, tripID, expenseID string) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[tripID]; !ok {
		return core.Expense{}, store.ErrTripNotFound
	}
	for _, e := range s.expenses[tripID] {
		if e.ID == expenseID {
			return cloneExpense(e), nil
		}
	}
	return core.Expense{}, store.ErrExpenseNotFound
}

// ListExpenses returns a trip's expenses, newest first.
func (s *Store) ListExpenses(_ context.Context, tripID string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[tripID]; !ok {
		return nil, store.ErrTripNotFound
	}

	items := s.expenses[tripID]
	out := make([]core.Expense, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, cloneExpense(items[i]))
	}
	return out, nil
}

func (s *Store) DeleteExpense(_ context.Context, tripID, expenseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[tripID]; !ok {
		return store.ErrTripNotFound
	}
	items := s.expenses[tripID]
	for i, e := range items {
		if e.ID == expenseID {
			s.expenses[tripID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return store.ErrExpenseNotFound
}

func (s *Store) DeleteExpenses(_ context.Context, tripID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[tripID]; !ok {
		return store.ErrTripNotFound
	}
	delete(s.expenses, tripID)
	return nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func cloneTrip(t core.Trip) core.Trip {
	t.Members = append([]string(nil), t.Members...)
	if t.PINHashes != nil {
		hashes := make(map[string]string, len(t.PINHashes))
		for k, v := range t.PINHashes {
			hashes[k] = v
		}
		t.PINHashes = hashes
	}
	return t
}

func cloneExpense(e core.Expense) core.Expense {
	e.SplitBetween = append([]string(nil), e.SplitBetween...)
	return e
}
