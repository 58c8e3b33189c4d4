// Package worker consumes expense events from the broker and mirrors
// them into the configured export targets.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"splittrip/internal/amqp"
	"splittrip/internal/core"
	"splittrip/internal/export"
	"splittrip/internal/metrics"
)

// MirrorWorker fans expense events out to export targets. Created
// expenses are appended to every target. Deleted expenses are skipped
// because the mirrors are append-only; the snapshot cycle rewrites the
// CSV mirror from storage and removes deleted rows there.
type MirrorWorker struct {
	targets []export.Target
	metrics *metrics.Metrics
}

func NewMirrorWorker(targets []export.Target, m *metrics.Metrics) *MirrorWorker {
	if m == nil {
		m = metrics.New()
	}
	return &MirrorWorker{
		targets: targets,
		metrics: m,
	}
}

// HandleEvent processes a single expense event from AMQP. Returning an
// error requeues the delivery, so targets that already succeeded will
// see the same row again on redelivery.
func (w *MirrorWorker) HandleEvent(ctx context.Context, event *amqp.ExpenseEvent) error {
	switch event.Type {
	case amqp.EventExpenseCreated:
		err := w.mirrorExpense(ctx, event)
		result := "success"
		if err != nil {
			result = "error"
		}
		w.metrics.EventsConsumedTotal.WithLabelValues(string(event.Type), result).Inc()
		return err

	case amqp.EventExpenseDeleted:
		slog.InfoContext(ctx, "Skipping delete event, mirrors are append-only",
			"trip_id", event.TripID,
			"expense_id", event.Expense.ID)
		w.metrics.EventsConsumedTotal.WithLabelValues(string(event.Type), "skipped").Inc()
		return nil

	default:
		slog.WarnContext(ctx, "Ignoring unknown event type", "event_type", event.Type)
		w.metrics.EventsConsumedTotal.WithLabelValues(string(event.Type), "unknown").Inc()
		return nil
	}
}

// mirrorExpense appends the expense to every target. A failing target
// does not stop the fan-out; all failures are joined into the returned
// error.
func (w *MirrorWorker) mirrorExpense(ctx context.Context, event *amqp.ExpenseEvent) error {
	trip := core.Trip{ID: event.TripID, Name: event.TripName}
	expense := event.CoreExpense()

	var errs []error
	for _, target := range w.targets {
		ref, err := target.AppendExpense(ctx, trip, expense)
		if err != nil {
			w.metrics.ExportsTotal.WithLabelValues(target.Name(), "error").Inc()
			slog.ErrorContext(ctx, "Failed to mirror expense",
				"target", target.Name(),
				"trip_id", event.TripID,
				"expense_id", event.Expense.ID,
				"error", err)
			errs = append(errs, fmt.Errorf("mirror to %s: %w", target.Name(), err))
			continue
		}

		w.metrics.ExportsTotal.WithLabelValues(target.Name(), "success").Inc()
		slog.InfoContext(ctx, "Mirrored expense",
			"target", target.Name(),
			"ref", ref,
			"trip_id", event.TripID,
			"expense_id", event.Expense.ID,
			"description", expense.Description)
	}

	return errors.Join(errs...)
}
