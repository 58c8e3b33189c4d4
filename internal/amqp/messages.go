package amqp

import (
	"encoding/json"
	"time"

	"splittrip/internal/core"
)

// EventType names the expense lifecycle events published to the broker.
type EventType string

const (
	EventExpenseCreated EventType = "expense.created"
	EventExpenseDeleted EventType = "expense.deleted"
)

// ExpenseEvent is the message published whenever an expense is created or
// deleted. It carries the full expense so consumers can mirror it to
// export targets without a database round trip.
type ExpenseEvent struct {
	Type       EventType    `json:"type"`
	TripID     string       `json:"trip_id"`
	TripName   string       `json:"trip_name"`
	Expense    EventExpense `json:"expense"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// EventExpense is the wire form of an expense inside an event.
type EventExpense struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Amount       core.Money `json:"amount"`
	PaidBy       string     `json:"paid_by"`
	SplitBetween []string   `json:"split_between"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewExpenseEvent builds an event from domain objects.
func NewExpenseEvent(eventType EventType, trip core.Trip, e core.Expense) *ExpenseEvent {
	return &ExpenseEvent{
		Type:     eventType,
		TripID:   trip.ID,
		TripName: trip.Name,
		Expense: EventExpense{
			ID:           e.ID,
			Description:  e.Description,
			Amount:       e.Amount,
			PaidBy:       e.PaidBy,
			SplitBetween: append([]string(nil), e.SplitBetween...),
			CreatedAt:    e.CreatedAt,
		},
		OccurredAt: time.Now().UTC(),
	}
}

// CoreExpense converts the wire form back to the domain type.
func (ev *ExpenseEvent) CoreExpense() core.Expense {
	return core.Expense{
		ID:           ev.Expense.ID,
		TripID:       ev.TripID,
		Description:  ev.Expense.Description,
		Amount:       ev.Expense.Amount,
		PaidBy:       ev.Expense.PaidBy,
		SplitBetween: append([]string(nil), ev.Expense.SplitBetween...),
		CreatedAt:    ev.Expense.CreatedAt,
	}
}

// ToJSON converts the event to JSON bytes
func (ev *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(ev)
}

// ExpenseEventFromJSON creates an event from JSON bytes
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var ev ExpenseEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
