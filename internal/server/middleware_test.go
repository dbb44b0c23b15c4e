package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AGENTFABRIC/internal/types"
)

func TestClassifyEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/chat", classStrategize},
		{"/api/decompose", classStrategize},
		{"/api/approve", classCoordinate},
		{"/api/decisions", classCoordinate},
		{"/api/compose", classCoordinate},
		{"/api/task/assign", classDispatch},
		{"/api/task/complete", classDispatch},
		{"/api/agent/spawn", classDispatch},
		{"/api/agents", classDispatch},
		{"/api/scale", classDispatch},
		{"/api/inference", classExecute},
		{"/api/batch", classExecute},
		{"/api/roi/evaluate", classExecute},
		{"/api/stats", classDefault},
		{"/api/projects", classDefault},
	}
	for _, tt := range tests {
		if got := classifyEndpoint(tt.path); got != tt.want {
			t.Errorf("classifyEndpoint(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestIdentityMiddlewareRejectsAnonymousWrites(t *testing.T) {
	handler := IdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous POST status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("X-User-ID", "alice")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("identified POST status = %d, want 200", rec.Code)
	}
}

func TestIdentityMiddlewareAllowsAnonymousReads(t *testing.T) {
	var seen string
	handler := IdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous GET status = %d, want 200", rec.Code)
	}
	if seen != "anonymous" {
		t.Errorf("identity = %s, want anonymous", seen)
	}
}

func TestRateLimiterPerClassBudget(t *testing.T) {
	rl := NewRateLimiter(types.RateLimitConfig{Strategize: 2, Default: 100})

	if !rl.Allow("alice", classStrategize) || !rl.Allow("alice", classStrategize) {
		t.Fatal("burst budget should admit the first two requests")
	}
	if rl.Allow("alice", classStrategize) {
		t.Error("third request should exhaust the strategize bucket")
	}
	// Other classes and other clients are unaffected.
	if !rl.Allow("alice", classDefault) {
		t.Error("default class has its own bucket")
	}
	if !rl.Allow("bob", classStrategize) {
		t.Error("buckets are per client")
	}
}

func TestRateLimiterZeroBudgetUnlimited(t *testing.T) {
	rl := NewRateLimiter(types.RateLimitConfig{})
	for i := 0; i < 500; i++ {
		if !rl.Allow("alice", classDefault) {
			t.Fatal("zero configured budget means unlimited")
		}
	}
}

func TestRateLimiterMiddleware429(t *testing.T) {
	rl := NewRateLimiter(types.RateLimitConfig{Strategize: 1})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("X-User-ID", "alice")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Powered-By", "somelang/1.2")
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := rec.Header().Get("Server"); got != "FABRIC" {
		t.Errorf("Server header = %q, want FABRIC", got)
	}
	if rec.Header().Get("X-Powered-By") != "" {
		t.Error("X-Powered-By should be stripped")
	}
}
