// Package csvfile provides a flat-file storage backend. Trips live in a
// trips.csv index and each trip's expenses in <trip-id>.csv, written in
// the interchange format with a leading id column. State is loaded once
// at open; every mutation rewrites the affected file.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"splittrip/internal/core"
	"splittrip/internal/export"
	"splittrip/internal/store"
)

var _ store.Store = (*Store)(nil)

const tripsFile = "trips.csv"

var tripColumns = []string{"id", "name", "currency", "members", "pin_hashes", "created_at", "updated_at"}

type tripRecord struct {
	trip core.Trip
	seq  int64
}

type Store struct {
	mu       sync.Mutex
	dir      string
	trips    map[string]tripRecord
	expenses map[string][]core.Expense // per trip, in file order
	nextSeq  int64
}

// Open loads the data directory, creating it when missing.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &Store{
		dir:      dir,
		trips:    make(map[string]tripRecord),
		expenses: make(map[string][]core.Expense),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) CreateTrip(_ context.Context, t *core.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Millisecond precision is what the files can hold.
	now := time.Now().UTC().Truncate(time.Millisecond)
	t.ID = uuid.New().String()
	t.CreatedAt = now
	t.UpdatedAt = now

	s.nextSeq++
	s.trips[t.ID] = tripRecord{trip: cloneTrip(*t), seq: s.nextSeq}
	return s.saveTrips()
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

func (s *Store) UpdateTrip(_ context.Context, t *core.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.trips[t.ID]
	if !ok {
		return store.ErrTripNotFound
	}

	t.CreatedAt = rec.trip.CreatedAt
	t.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	// A fresh seq keeps ListTrips stable when several writes share the
	// same millisecond.
	s.nextSeq++
	s.trips[t.ID] = tripRecord{trip: cloneTrip(*t), seq: s.nextSeq}

	if err := s.saveTrips(); err != nil {
		return err
	}
	// Expense rows carry the trip name, which may just have changed.
	return s.saveExpenses(t.ID)
}

func (s *Store) DeleteTrip(_ context.Context, tripID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[tripID]; !ok {
		return store.ErrTripNotFound
	}
	delete(s.trips, tripID)
	delete(s.expenses, tripID)

	if err := s.saveTrips(); err != nil {
		return err
	}
	if err := os.Remove(s.expensePath(tripID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove expense file: %w", err)
	}
	return nil
}

func (s *Store) CreateExpense(_ context.Context, e *core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[e.TripID]; !ok {
		return store.ErrTripNotFound
	}

	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	s.expenses[e.TripID] = append(s.expenses[e.TripID], cloneExpense(*e))
	return s.saveExpenses(e.TripID)
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
			return s.saveExpenses(tripID)
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
	if err := os.Remove(s.expensePath(tripID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove expense file: %w", err)
	}
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) expensePath(tripID string) string {
	return filepath.Join(s.dir, tripID+".csv")
}

func (s *Store) load() error {
	rows, err := readFile(filepath.Join(s.dir, tripsFile))
	if err != nil {
		return err
	}
	for i, row := range rows {
		if i == 0 && isTripHeader(row) {
			continue
		}
		trip, err := decodeTrip(row)
		if err != nil {
			return fmt.Errorf("%s line %d: %w", tripsFile, i+1, err)
		}
		s.nextSeq++
		s.trips[trip.ID] = tripRecord{trip: trip, seq: s.nextSeq}

		if err := s.loadExpenses(trip.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadExpenses(tripID string) error {
	name := tripID + ".csv"
	rows, err := readFile(s.expensePath(tripID))
	if err != nil {
		return err
	}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if i == 0 && len(row) == 7 && export.IsHeader(row[1:]) {
			continue
		}
		if len(row) != 7 {
			return fmt.Errorf("%s line %d: expected 7 fields, got %d", name, i+1, len(row))
		}
		_, e, err := export.DecodeRecord(row[1:])
		if err != nil {
			return fmt.Errorf("%s line %d: %w", name, i+1, err)
		}
		e.ID = row[0]
		e.TripID = tripID
		s.expenses[tripID] = append(s.expenses[tripID], e)
	}
	return nil
}

func (s *Store) saveTrips() error {
	recs := make([]tripRecord, 0, len(s.trips))
	for _, rec := range s.trips {
		recs = append(recs, rec)
	}
	// File order is write order, so reloads rebuild the same sequence.
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	rows := [][]string{tripColumns}
	for _, rec := range recs {
		rows = append(rows, encodeTrip(rec.trip))
	}
	return writeFile(filepath.Join(s.dir, tripsFile), rows)
}

func (s *Store) saveExpenses(tripID string) error {
	rec, ok := s.trips[tripID]
	if !ok {
		return store.ErrTripNotFound
	}

	rows := [][]string{append([]string{"id"}, export.Header()...)}
	for _, e := range s.expenses[tripID] {
		rows = append(rows, append([]string{e.ID}, export.EncodeRecord(rec.trip.Name, e)...))
	}
	return writeFile(s.expensePath(tripID), rows)
}

func encodeTrip(t core.Trip) []string {
	pairs := make([]string, 0, len(t.PINHashes))
	for _, m := range t.Members {
		if h, ok := t.PINHashes[m]; ok {
			pairs = append(pairs, m+"="+h)
		}
	}
	return []string{
		t.ID,
		t.Name,
		t.Currency,
		export.JoinNames(t.Members),
		strings.Join(pairs, "|"),
		strconv.FormatInt(t.CreatedAt.UnixMilli(), 10),
		strconv.FormatInt(t.UpdatedAt.UnixMilli(), 10),
	}
}

func decodeTrip(row []string) (core.Trip, error) {
	if len(row) != len(tripColumns) {
		return core.Trip{}, fmt.Errorf("expected %d fields, got %d", len(tripColumns), len(row))
	}

	createdMs, err := strconv.ParseInt(row[5], 10, 64)
	if err != nil {
		return core.Trip{}, fmt.Errorf("created_at %q: %w", row[5], err)
	}
	updatedMs, err := strconv.ParseInt(row[6], 10, 64)
	if err != nil {
		return core.Trip{}, fmt.Errorf("updated_at %q: %w", row[6], err)
	}

	t := core.Trip{
		ID:        row[0],
		Name:      row[1],
		Currency:  row[2],
		Members:   export.SplitNames(row[3]),
		CreatedAt: time.UnixMilli(createdMs).UTC(),
		UpdatedAt: time.UnixMilli(updatedMs).UTC(),
	}
	if row[4] != "" {
		t.PINHashes = make(map[string]string)
		for _, pair := range strings.Split(row[4], "|") {
			name, hash, ok := strings.Cut(pair, "=")
			if !ok {
				return core.Trip{}, fmt.Errorf("malformed pin hash entry %q", pair)
			}
			t.PINHashes[name] = hash
		}
	}
	return t, nil
}

func isTripHeader(row []string) bool {
	if len(row) != len(tripColumns) {
		return false
	}
	for i, col := range tripColumns {
		if row[i] != col {
			return false
		}
	}
	return true
}

func readFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		rows = append(rows, row)
	}
}

func writeFile(path string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

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
