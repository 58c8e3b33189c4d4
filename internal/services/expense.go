package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"splittrip/internal/amqp"
	"splittrip/internal/core"
	"splittrip/internal/export"
)

// EventPublisher is the slice of the AMQP client the service needs.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, event *amqp.ExpenseEvent) error
}

// CreateExpenseInput is the payload for AddExpense.
type CreateExpenseInput struct {
	Description  string
	Amount       core.Money
	PaidBy       string
	SplitBetween []string
}

// AddExpense validates an expense against its trip's member set and
// persists it. The trip's UpdatedAt is not touched. An expense.created
// event is published when an event bus is configured.
func (s *TripService) AddExpense(ctx context.Context, tripID string, in CreateExpenseInput) (core.Expense, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return core.Expense{}, err
	}

	expense := core.Expense{
		TripID:       tripID,
		Description:  strings.TrimSpace(in.Description),
		Amount:       in.Amount,
		PaidBy:       strings.TrimSpace(in.PaidBy),
		SplitBetween: cleanNames(in.SplitBetween),
	}
	if err := expense.ValidateAgainst(trip); err != nil {
		return core.Expense{}, err
	}

	if err := s.store.CreateExpense(ctx, &expense); err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	s.metrics.ExpensesTotal.Inc()
	s.invalidate(tripID)
	s.publish(ctx, amqp.EventExpenseCreated, trip, expense)

	slog.InfoContext(ctx, "Expense added",
		"trip_id", tripID,
		"expense_id", expense.ID,
		"amount_cents", expense.Amount.Cents)
	return expense, nil
}

// DeleteExpense removes one expense and publishes an expense.deleted
// event when an event bus is configured.
func (s *TripService) DeleteExpense(ctx context.Context, tripID, expenseID string) error {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	expense, err := s.store.GetExpense(ctx, tripID, expenseID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteExpense(ctx, tripID, expenseID); err != nil {
		return err
	}

	s.invalidate(tripID)
	s.publish(ctx, amqp.EventExpenseDeleted, trip, expense)

	slog.InfoContext(ctx, "Expense deleted",
		"trip_id", tripID,
		"expense_id", expenseID)
	return nil
}

// ExportCSV writes the trip's expenses in interchange format, oldest
// first so a later import recreates them in their original order.
func (s *TripService) ExportCSV(ctx context.Context, tripID string, w io.Writer) (core.Trip, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return core.Trip{}, err
	}
	expenses, err := s.store.ListExpenses(ctx, tripID)
	if err != nil {
		return core.Trip{}, fmt.Errorf("list expenses: %w", err)
	}
	reverseExpenses(expenses)

	if err := export.WriteTrip(w, trip, expenses); err != nil {
		return core.Trip{}, fmt.Errorf("export trip %s: %w", tripID, err)
	}
	return trip, nil
}

// ImportRowError describes one rejected CSV row.
type ImportRowError struct {
	Line    int
	Message string
}

// ImportResult reports the outcome of an import: how many rows became
// expenses and which lines were rejected.
type ImportResult struct {
	Imported int
	Errors   []ImportRowError
}

// ImportExpenses appends expenses to a trip from interchange CSV. Rows
// that fail to parse or validate are reported per line and skipped; the
// rest are created as fresh expenses with new IDs and timestamps. A
// header row is tolerated. Storage failures abort the import.
func (s *TripService) ImportExpenses(ctx context.Context, tripID string, r io.Reader) (ImportResult, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return ImportResult{}, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var result ImportResult
	line := 0
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Errors = append(result.Errors, ImportRowError{Line: line, Message: err.Error()})
			continue
		}
		if line == 1 && export.IsHeader(rec) {
			continue
		}

		_, expense, err := export.DecodeRecord(rec)
		if err != nil {
			result.Errors = append(result.Errors, ImportRowError{Line: line, Message: err.Error()})
			continue
		}
		expense.TripID = tripID
		if err := expense.ValidateAgainst(trip); err != nil {
			result.Errors = append(result.Errors, ImportRowError{Line: line, Message: err.Error()})
			continue
		}

		if err := s.store.CreateExpense(ctx, &expense); err != nil {
			return result, fmt.Errorf("save imported expense: %w", err)
		}
		s.metrics.ExpensesTotal.Inc()
		s.publish(ctx, amqp.EventExpenseCreated, trip, expense)
		result.Imported++
	}

	if result.Imported > 0 {
		s.invalidate(tripID)
	}
	slog.InfoContext(ctx, "Expenses imported",
		"trip_id", tripID,
		"imported", result.Imported,
		"rejected", len(result.Errors))
	return result, nil
}

// publish sends an expense event when a publisher is configured. Publish
// failures are logged, not returned; the expense is already persisted
// locally and the consumer side retries through the broker.
func (s *TripService) publish(ctx context.Context, eventType amqp.EventType, trip core.Trip, e core.Expense) {
	if s.publisher == nil {
		return
	}
	event := amqp.NewExpenseEvent(eventType, trip, e)
	if err := s.publisher.PublishExpenseEvent(ctx, event); err != nil {
		s.metrics.EventsPublishedTotal.WithLabelValues(string(eventType), "error").Inc()
		slog.ErrorContext(ctx, "Failed to publish expense event",
			"type", string(eventType),
			"trip_id", trip.ID,
			"expense_id", e.ID,
			"error", err)
		return
	}
	s.metrics.EventsPublishedTotal.WithLabelValues(string(eventType), "success").Inc()
}

func reverseExpenses(expenses []core.Expense) {
	for i, j := 0, len(expenses)-1; i < j; i, j = i+1, j-1 {
		expenses[i], expenses[j] = expenses[j], expenses[i]
	}
}
