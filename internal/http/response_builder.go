// This file implements a fluent builder for JSON responses, plus the
// mapping from service errors to status codes and the exact messages
// the web UI matches on.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"splittrip/internal/auth"
	"splittrip/internal/core"
	applog "splittrip/internal/log"
	"splittrip/internal/services"
	"splittrip/internal/store"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	payload    any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Payload sets the value to encode as the response body.
func (b *JSONResponseBuilder) Payload(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

// Error sets a {"error": message} body.
func (b *JSONResponseBuilder) Error(message string) *JSONResponseBuilder {
	b.payload = map[string]string{"error": message}
	return b
}

// Message sets a {"message": message} body.
func (b *JSONResponseBuilder) Message(message string) *JSONResponseBuilder {
	b.payload = map[string]string{"message": message}
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(b.statusCode)
	if b.payload != nil {
		_ = json.NewEncoder(w).Encode(b.payload)
	}
}

// ErrorResponse creates an error response with the given status.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Error(message)
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// UnauthorizedError creates a 401 Unauthorized error response.
func UnauthorizedError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// validationMessages maps domain validation sentinels to the messages
// the UI displays. Anything not listed falls back to the error's own
// text, which covers the newer validations added on top of the
// originals.
var validationMessages = map[error]string{
	core.ErrTripNameRequired:  "Trip name is required",
	core.ErrTooFewMembers:     "At least 4 members required",
	core.ErrEmptyDescription:  "Description is required",
	core.ErrInvalidAmount:     "Valid amount is required",
	core.ErrPayerRequired:     "Paid by is required",
	core.ErrEmptySplit:        "At least one person to split with is required",
	core.ErrPayerNotMember:    "Paid by must be a trip member",
	core.ErrSplitterNotMember: "All split members must be trip members",
}

// validationSentinels lists every error that maps to a 400. Order
// matters only for message lookup, which scans validationMessages
// first.
var validationSentinels = []error{
	core.ErrTripNameRequired,
	core.ErrTripNameTooLong,
	core.ErrTooFewMembers,
	core.ErrEmptyMemberName,
	core.ErrDuplicateMember,
	core.ErrEmptyDescription,
	core.ErrDescriptionTooLong,
	core.ErrInvalidAmount,
	core.ErrPayerRequired,
	core.ErrEmptySplit,
	core.ErrPayerNotMember,
	core.ErrSplitterNotMember,
	auth.ErrWeakPIN,
	auth.ErrPINForNonMember,
}

// respondError translates a service error into the matching HTTP
// response. Unrecognized errors become a 500 and are logged with the
// request context.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrTripNotFound):
		NotFoundError("Trip not found").Write(w)
	case errors.Is(err, store.ErrExpenseNotFound):
		NotFoundError("Expense not found").Write(w)
	case errors.Is(err, services.ErrMemberChangeNeedsConfirm):
		NewJSONResponse().Status(http.StatusConflict).Payload(map[string]any{
			"warning":            "Changing members will require clearing expenses",
			"needs_confirmation": true,
		}).Write(w)
	case errors.Is(err, auth.ErrInvalidCredentials):
		UnauthorizedError("Invalid member or PIN").Write(w)
	case errors.Is(err, services.ErrAuthDisabled):
		NotFoundError("Authentication is not enabled").Write(w)
	default:
		for _, sentinel := range validationSentinels {
			if errors.Is(err, sentinel) {
				BadRequestError(validationMessage(err)).Write(w)
				return
			}
		}
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
		InternalServerError("Internal server error").Write(w)
	}
}

func validationMessage(err error) string {
	for sentinel, message := range validationMessages {
		if errors.Is(err, sentinel) {
			return message
		}
	}
	return err.Error()
}
