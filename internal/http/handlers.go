package http

import (
	"context"
	"net/http"
	"time"

	"splittrip/internal/core"
	applog "splittrip/internal/log"
)

// tripJSON is the wire form of a trip together with its expense rollup.
type tripJSON struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Currency     string     `json:"currency"`
	Members      []string   `json:"members"`
	CreatedAt    string     `json:"created_at"`
	UpdatedAt    string     `json:"updated_at"`
	ExpenseCount int        `json:"expense_count"`
	TotalAmount  core.Money `json:"total_amount"`
}

// tripDetailJSON adds the expense list to the trip payload. The list is
// always present, even when empty.
type tripDetailJSON struct {
	tripJSON
	Expenses []expenseJSON `json:"expenses"`
}

type expenseJSON struct {
	ID           string     `json:"id"`
	TripID       string     `json:"trip_id"`
	Description  string     `json:"description"`
	Amount       core.Money `json:"amount"`
	PaidBy       string     `json:"paid_by"`
	SplitBetween []string   `json:"split_between"`
	CreatedAt    string     `json:"created_at"`
	Timestamp    int64      `json:"timestamp"`
}

type settlementJSON struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Amount core.Money `json:"amount"`
}

func newTripJSON(trip core.Trip, summary core.TripSummary) tripJSON {
	return tripJSON{
		ID:           trip.ID,
		Name:         trip.Name,
		Currency:     trip.Currency,
		Members:      trip.Members,
		CreatedAt:    trip.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    trip.UpdatedAt.UTC().Format(time.RFC3339),
		ExpenseCount: summary.ExpenseCount,
		TotalAmount:  summary.Total,
	}
}

func newExpenseJSON(e core.Expense) expenseJSON {
	return expenseJSON{
		ID:           e.ID,
		TripID:       e.TripID,
		Description:  e.Description,
		Amount:       e.Amount,
		PaidBy:       e.PaidBy,
		SplitBetween: e.SplitBetween,
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		Timestamp:    e.CreatedAt.UnixMilli(),
	}
}

// newExpenseList always returns a non-nil slice so empty lists encode
// as [] rather than null.
func newExpenseList(expenses []core.Expense) []expenseJSON {
	out := make([]expenseJSON, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, newExpenseJSON(e))
	}
	return out
}

// handleIndex serves the embedded single-page UI.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		InternalServerError("UI unavailable").Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", nil); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to render index", "error", err)
	}
}

// handleHealth performs a basic liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Payload(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	}).Write(w)
}

// handleReady performs a readiness check with dependency verification.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if err := s.service.Ping(ctx); err != nil {
		checks["store"] = "failed: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	checks["rate_limiter"] = map[string]any{
		"status":         "ok",
		"active_clients": s.limiter.ActiveClients(),
	}

	NewJSONResponse().Status(httpStatus).Payload(map[string]any{
		"status": status,
		"checks": checks,
	}).Write(w)
}
