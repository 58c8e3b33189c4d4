package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowUnderLimit(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 3})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.1.1.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.1.1.1") {
		t.Error("fourth request should be rejected")
	}
	// Other clients are unaffected.
	if !rl.Allow("10.1.1.2") {
		t.Error("different client should be allowed")
	}
}

func TestAllowWindowReset(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1})
	defer rl.Stop()

	if !rl.Allow("10.1.1.1") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("10.1.1.1") {
		t.Fatal("second request should be rejected")
	}

	// Age the window past a minute.
	rl.mu.Lock()
	rl.clients["10.1.1.1"].lastRequest = time.Now().Add(-2 * time.Minute)
	rl.mu.Unlock()

	if !rl.Allow("10.1.1.1") {
		t.Error("request after window reset should be allowed")
	}
}

func TestCleanupStaleEntries(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 10})
	defer rl.Stop()

	rl.Allow("10.1.1.1")
	rl.Allow("10.1.1.2")

	rl.mu.Lock()
	rl.clients["10.1.1.1"].lastRequest = time.Now().Add(-15 * time.Minute)
	rl.mu.Unlock()

	rl.cleanupStaleEntries()

	if got := rl.ActiveClients(); got != 1 {
		t.Errorf("ActiveClients = %d, want 1", got)
	}
}

func TestMiddlewareRejectsWithRetryAfter(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1})
	defer rl.Stop()

	var limitedIP string
	handler := rl.Middleware(
		func(r *http.Request) string { return "10.1.1.1" },
		func(r *http.Request, ip string) { limitedIP = ip },
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trips", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trips", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q", got)
	}
	if limitedIP != "10.1.1.1" {
		t.Errorf("onLimit saw %q", limitedIP)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}
