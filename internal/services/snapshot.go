package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"splittrip/internal/core"
	"splittrip/internal/metrics"
	"splittrip/internal/store"
)

// Snapshotter writes a full trip snapshot, replacing any previous one.
// export.CSVDir is the usual implementation.
type Snapshotter interface {
	WriteSnapshot(trip core.Trip, expenses []core.Expense) error
}

// SnapshotConfig holds configuration for the snapshot processor.
type SnapshotConfig struct {
	// Interval is how often every trip is exported (default: 1h).
	Interval time.Duration

	// Concurrency bounds how many trips are exported at once (default: 4).
	Concurrency int
}

// DefaultSnapshotConfig returns sensible defaults.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Interval:    time.Hour,
		Concurrency: 4,
	}
}

// SnapshotProcessor periodically exports every trip's full expense list
// through a Snapshotter. One failing trip never blocks the others.
type SnapshotProcessor struct {
	store    store.Store
	snapshot Snapshotter
	metrics  *metrics.Metrics
	config   SnapshotConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSnapshotProcessor(st store.Store, snapshot Snapshotter, m *metrics.Metrics, config SnapshotConfig) *SnapshotProcessor {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if m == nil {
		m = metrics.New()
	}
	return &SnapshotProcessor{
		store:    st,
		snapshot: snapshot,
		metrics:  m,
		config:   config,
	}
}

// Start begins the snapshot loop. Returns an error if already running.
func (p *SnapshotProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("snapshot processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Snapshot processor started",
		"interval", p.config.Interval,
		"concurrency", p.config.Concurrency)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SnapshotProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Snapshot processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Snapshot processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// IsRunning returns whether the processor is currently running.
func (p *SnapshotProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SnapshotProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Snapshot immediately on startup.
	p.runOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *SnapshotProcessor) runOnce(ctx context.Context) {
	count, err := p.SnapshotAll(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Snapshot cycle failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "Snapshot cycle complete", "trips", count)
}

// SnapshotAll exports every trip once, bounded by the configured
// concurrency, and returns how many snapshots were written. Per-trip
// failures are logged and counted; only a failing trip listing is an
// error.
func (p *SnapshotProcessor) SnapshotAll(ctx context.Context) (int, error) {
	trips, err := p.store.ListTrips(ctx)
	if err != nil {
		return 0, fmt.Errorf("list trips: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	var written atomic.Int64
	for _, trip := range trips {
		trip := trip
		g.Go(func() error {
			expenses, err := p.store.ListExpenses(ctx, trip.ID)
			if err == nil {
				reverseExpenses(expenses)
				err = p.snapshot.WriteSnapshot(trip, expenses)
			}
			if err != nil {
				p.metrics.SnapshotsTotal.WithLabelValues("error").Inc()
				slog.ErrorContext(ctx, "Trip snapshot failed",
					"trip_id", trip.ID,
					"error", err)
				return nil
			}
			p.metrics.SnapshotsTotal.WithLabelValues("success").Inc()
			written.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(written.Load()), nil
}
