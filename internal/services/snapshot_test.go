package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"splittrip/internal/core"
	"splittrip/internal/store/memory"
)

type fakeSnapshotter struct {
	mu        sync.Mutex
	snapshots map[string][]core.Expense
	failTrip  string
}

func (f *fakeSnapshotter) WriteSnapshot(trip core.Trip, expenses []core.Expense) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if trip.ID == f.failTrip {
		return errors.New("disk full")
	}
	if f.snapshots == nil {
		f.snapshots = make(map[string][]core.Expense)
	}
	f.snapshots[trip.ID] = append([]core.Expense(nil), expenses...)
	return nil
}

func (f *fakeSnapshotter) snapshot(tripID string) ([]core.Expense, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	expenses, ok := f.snapshots[tripID]
	return expenses, ok
}

func TestDefaultSnapshotConfig(t *testing.T) {
	config := DefaultSnapshotConfig()
	if config.Interval != time.Hour {
		t.Errorf("expected Interval 1h, got %v", config.Interval)
	}
	if config.Concurrency != 4 {
		t.Errorf("expected Concurrency 4, got %d", config.Concurrency)
	}
}

func TestSnapshotAllWritesEveryTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	empty := seedTrip(t, svc, "Empty")
	busy := seedTrip(t, svc, "Busy")
	for _, desc := range []string{"First", "Second"} {
		if _, err := svc.AddExpense(ctx, busy.ID, CreateExpenseInput{
			Description:  desc,
			Amount:       core.Money{Cents: 1000},
			PaidBy:       "Alice",
			SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
		}); err != nil {
			t.Fatalf("AddExpense failed: %v", err)
		}
	}

	fake := &fakeSnapshotter{}
	processor := NewSnapshotProcessor(svc.store, fake, nil, DefaultSnapshotConfig())

	count, err := processor.SnapshotAll(ctx)
	if err != nil {
		t.Fatalf("SnapshotAll failed: %v", err)
	}
	if count != 2 {
		t.Errorf("snapshot count = %d, want 2", count)
	}

	if _, ok := fake.snapshot(empty.ID); !ok {
		t.Error("empty trip was not snapshotted")
	}
	expenses, ok := fake.snapshot(busy.ID)
	if !ok {
		t.Fatal("busy trip was not snapshotted")
	}
	if len(expenses) != 2 {
		t.Fatalf("expected 2 expenses in snapshot, got %d", len(expenses))
	}
	if expenses[0].Description != "First" {
		t.Errorf("snapshot not oldest first: first row is %q", expenses[0].Description)
	}
}

func TestSnapshotAllContinuesOnFailure(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	broken := seedTrip(t, svc, "Broken")
	healthy := seedTrip(t, svc, "Healthy")

	fake := &fakeSnapshotter{failTrip: broken.ID}
	processor := NewSnapshotProcessor(svc.store, fake, nil, DefaultSnapshotConfig())

	count, err := processor.SnapshotAll(ctx)
	if err != nil {
		t.Fatalf("SnapshotAll failed: %v", err)
	}
	if count != 1 {
		t.Errorf("snapshot count = %d, want 1", count)
	}
	if _, ok := fake.snapshot(healthy.ID); !ok {
		t.Error("healthy trip must still be snapshotted")
	}
}

func TestSnapshotProcessorLifecycle(t *testing.T) {
	st := memory.New()
	fake := &fakeSnapshotter{}
	config := DefaultSnapshotConfig()
	config.Interval = 100 * time.Millisecond
	processor := NewSnapshotProcessor(st, fake, nil, config)

	ctx := context.Background()
	if processor.IsRunning() {
		t.Error("processor must not be running initially")
	}
	if err := processor.Stop(ctx); err != nil {
		t.Errorf("Stop before Start must not error: %v", err)
	}

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !processor.IsRunning() {
		t.Error("processor must be running after Start")
	}
	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting an already running processor")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor must not be running after Stop")
	}
}
