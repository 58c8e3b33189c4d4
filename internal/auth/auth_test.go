package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestValidatePIN(t *testing.T) {
	tests := []struct {
		name    string
		pin     string
		wantErr bool
	}{
		{"four digits", "1234", false},
		{"eight digits", "12345678", false},
		{"too short", "123", true},
		{"too long", "123456789", true},
		{"letters", "12ab", true},
		{"empty", "", true},
		{"unicode digits rejected", "١٢٣٤", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePIN(tt.pin)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePIN(%q) error = %v, wantErr %v", tt.pin, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrWeakPIN) {
				t.Errorf("ValidatePIN(%q) error = %v, want ErrWeakPIN", tt.pin, err)
			}
		})
	}
}

func TestHashAndVerifyPIN(t *testing.T) {
	hash, err := HashPIN("4812")
	if err != nil {
		t.Fatalf("HashPIN failed: %v", err)
	}
	if hash == "4812" {
		t.Fatal("hash must not equal the plain PIN")
	}

	if err := VerifyPIN(hash, "4812"); err != nil {
		t.Errorf("VerifyPIN with correct PIN failed: %v", err)
	}
	if err := VerifyPIN(hash, "0000"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("VerifyPIN with wrong PIN: got %v, want ErrInvalidCredentials", err)
	}
}

func TestHashPINRejectsWeakPIN(t *testing.T) {
	if _, err := HashPIN("12"); !errors.Is(err, ErrWeakPIN) {
		t.Errorf("HashPIN(\"12\") error = %v, want ErrWeakPIN", err)
	}
}

func TestHashMemberPINs(t *testing.T) {
	members := []string{"Alice", "Bob", "Carol", "Dave"}

	hashes, err := HashMemberPINs(map[string]string{"Alice": "1111", "Bob": "2222"}, members)
	if err != nil {
		t.Fatalf("HashMemberPINs failed: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("expected 2 hashes, got %d", len(hashes))
	}
	if err := VerifyPIN(hashes["Alice"], "1111"); err != nil {
		t.Errorf("Alice's hash does not verify: %v", err)
	}

	if _, err := HashMemberPINs(map[string]string{"Mallory": "9999"}, members); !errors.Is(err, ErrPINForNonMember) {
		t.Errorf("non-member PIN: got %v, want ErrPINForNonMember", err)
	}
	if _, err := HashMemberPINs(map[string]string{"Alice": "1"}, members); !errors.Is(err, ErrWeakPIN) {
		t.Errorf("weak PIN: got %v, want ErrWeakPIN", err)
	}

	empty, err := HashMemberPINs(nil, members)
	if err != nil || empty != nil {
		t.Errorf("nil pins: got (%v, %v), want (nil, nil)", empty, err)
	}
}

func TestJWTGenerateAndValidate(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	token, expiresAt, err := manager.Generate("trip-1", "Alice")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expiry %v not about an hour out", expiresAt)
	}

	claims, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.TripID != "trip-1" {
		t.Errorf("TripID = %q, want %q", claims.TripID, "trip-1")
	}
	if claims.Member != "Alice" {
		t.Errorf("Member = %q, want %q", claims.Member, "Alice")
	}
}

func TestJWTValidateFailures(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	t.Run("expired token", func(t *testing.T) {
		expired := NewJWTManager("test-secret", -time.Minute)
		token, _, err := expired.Generate("trip-1", "Alice")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if _, err := manager.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expired token: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTManager("other-secret", time.Hour)
		token, _, err := other.Generate("trip-1", "Alice")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if _, err := manager.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("wrong secret: got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := manager.Validate("not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("garbage token: got %v, want ErrInvalidToken", err)
		}
	})
}

func TestRequireMiddleware(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	var gotTripID, gotMember string
	router := mux.NewRouter()
	router.Handle("/api/trips/{id}/expenses", Require(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTripID = GetTripID(r.Context())
		gotMember = GetMember(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))).Methods(http.MethodPost)

	token, _, err := manager.Generate("trip-1", "Alice")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	do := func(t *testing.T, path, authorization string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing header", func(t *testing.T) {
		rec := do(t, "/api/trips/trip-1/expenses", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not JSON: %v", err)
		}
		if body["error"] == "" {
			t.Error("expected an error message in the body")
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		if rec := do(t, "/api/trips/trip-1/expenses", "Token abc"); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		if rec := do(t, "/api/trips/trip-1/expenses", "Bearer garbage"); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("token for another trip", func(t *testing.T) {
		if rec := do(t, "/api/trips/trip-2/expenses", "Bearer "+token); rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		rec := do(t, "/api/trips/trip-1/expenses", "Bearer "+token)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if gotTripID != "trip-1" || gotMember != "Alice" {
			t.Errorf("context claims = (%q, %q), want (trip-1, Alice)", gotTripID, gotMember)
		}
	})
}
