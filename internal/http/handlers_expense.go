package http

import (
	"bytes"
	"net/http"
	"strings"
	"unicode"

	"github.com/gorilla/mux"

	"splittrip/internal/services"
)

type importErrorJSON struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	// Going through the detail lookup gives unknown trips a 404 instead
	// of an empty list.
	detail, err := s.service.GetTripDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	NewJSONResponse().Payload(newExpenseList(detail.Expenses)).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["id"]

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		BadRequestError("Invalid JSON payload").Write(w)
		return
	}

	// A bad amount is left as zero here so domain validation reports
	// failures in its usual order, description first.
	amount, _ := parser.GetAmount("amount")

	expense, err := s.service.AddExpense(r.Context(), tripID, services.CreateExpenseInput{
		Description:  parser.GetString("description"),
		Amount:       amount,
		PaidBy:       parser.GetString("paid_by"),
		SplitBetween: parser.GetStringSlice("split_between"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	NewJSONResponse().Status(http.StatusCreated).Payload(newExpenseJSON(expense)).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.service.DeleteExpense(r.Context(), vars["id"], vars["expenseId"]); err != nil {
		s.respondError(w, r, err)
		return
	}
	NewJSONResponse().Message("Expense deleted").Write(w)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.GetBalanceReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	NewJSONResponse().Payload(report.Balances).Write(w)
}

func (s *Server) handleGetSettlements(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.GetBalanceReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]settlementJSON, 0, len(report.Settlements))
	for _, settlement := range report.Settlements {
		out = append(out, settlementJSON{
			From:   settlement.From,
			To:     settlement.To,
			Amount: settlement.Amount,
		})
	}
	NewJSONResponse().Payload(out).Write(w)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	// Buffer the document so storage errors can still produce a JSON
	// error response instead of a truncated download.
	var buf bytes.Buffer
	trip, err := s.service.ExportCSV(r.Context(), mux.Vars(r)["id"], &buf)
	if err != nil {
		s.metrics.ExportsTotal.WithLabelValues("download", "error").Inc()
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename(trip.Name)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
	s.metrics.ExportsTotal.WithLabelValues("download", "success").Inc()
}

func (s *Server) handleImportExpenses(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ImportExpenses(r.Context(), mux.Vars(r)["id"], r.Body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rowErrors := make([]importErrorJSON, 0, len(result.Errors))
	for _, rowErr := range result.Errors {
		rowErrors = append(rowErrors, importErrorJSON{Line: rowErr.Line, Error: rowErr.Message})
	}
	NewJSONResponse().Payload(map[string]any{
		"imported": result.Imported,
		"errors":   rowErrors,
	}).Write(w)
}

// exportFilename derives a safe download name from the trip name.
func exportFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('_')
		}
	}
	base := strings.Trim(b.String(), "_")
	if base == "" {
		base = "trip"
	}
	return base + "_expenses.csv"
}
