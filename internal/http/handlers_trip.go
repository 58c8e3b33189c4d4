package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"splittrip/internal/core"
	"splittrip/internal/services"
)

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	overviews, err := s.service.ListTrips(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]tripJSON, 0, len(overviews))
	for _, overview := range overviews {
		out = append(out, newTripJSON(overview.Trip, overview.Summary))
	}
	NewJSONResponse().Payload(out).Write(w)
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		BadRequestError("Invalid JSON payload").Write(w)
		return
	}

	trip, err := s.service.CreateTrip(r.Context(), services.CreateTripInput{
		Name:       parser.GetString("name"),
		Currency:   parser.GetString("currency"),
		Members:    parser.GetStringSlice("members"),
		MemberPINs: parser.GetStringMap("member_pins"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	NewJSONResponse().Status(http.StatusCreated).Payload(newTripJSON(trip, core.TripSummary{})).Write(w)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetTripDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	NewJSONResponse().Payload(tripDetailJSON{
		tripJSON: newTripJSON(detail.Trip, detail.Summary),
		Expenses: newExpenseList(detail.Expenses),
	}).Write(w)
}

func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["id"]

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		BadRequestError("Invalid JSON payload").Write(w)
		return
	}

	trip, _, err := s.service.UpdateTrip(r.Context(), tripID, services.UpdateTripInput{
		Name:                 parser.GetString("name"),
		Currency:             parser.GetString("currency"),
		Members:              parser.GetStringSlice("members"),
		MemberPINs:           parser.GetStringMap("member_pins"),
		ConfirmClearExpenses: parser.GetBool("confirm_clear_expenses"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	summary, err := s.service.GetTripSummary(r.Context(), tripID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	NewJSONResponse().Payload(newTripJSON(trip, summary)).Write(w)
}

func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTrip(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondError(w, r, err)
		return
	}
	NewJSONResponse().Message("Trip deleted").Write(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["id"]

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		BadRequestError("Invalid JSON payload").Write(w)
		return
	}

	member := parser.GetString("member")
	token, expiresAt, err := s.service.Login(r.Context(), tripID, member, parser.GetString("pin"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	NewJSONResponse().Payload(map[string]any{
		"token":      token,
		"member":     member,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}).Write(w)
}
