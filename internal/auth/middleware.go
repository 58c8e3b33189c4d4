package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

type contextKey string

const (
	tripIDKey contextKey = "auth_trip_id"
	memberKey contextKey = "auth_member"
)

// GetTripID returns the trip granted by the request token, or "".
func GetTripID(ctx context.Context) string {
	id, _ := ctx.Value(tripIDKey).(string)
	return id
}

// GetMember returns the member name from the request token, or "".
func GetMember(ctx context.Context) string {
	member, _ := ctx.Value(memberKey).(string)
	return member
}

// Require returns middleware that enforces a valid Bearer token. When the
// route carries an {id} variable the token's trip claim must match it, so
// a token for one trip cannot mutate another.
func Require(manager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, http.StatusUnauthorized, ErrMissingToken.Error())
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeAuthError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
				return
			}

			claims, err := manager.Validate(parts[1])
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
				return
			}

			if tripID := mux.Vars(r)["id"]; tripID != "" && claims.TripID != tripID {
				writeAuthError(w, http.StatusForbidden, "token does not grant access to this trip")
				return
			}

			ctx := context.WithValue(r.Context(), tripIDKey, claims.TripID)
			ctx = context.WithValue(ctx, memberKey, claims.Member)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
