package server

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/AGENTFABRIC/internal/types"
)

type contextKey string

// userIDKey carries the caller identity through the request context
const userIDKey contextKey = "user_id"

// Endpoint classes for rate limiting. Each class gets its own per-client
// token bucket.
const (
	classStrategize = "strategize"
	classCoordinate = "coordinate"
	classDispatch   = "dispatch"
	classExecute    = "execute"
	classDefault    = "default"
)

// classifyEndpoint maps a request path to its rate-limit class
func classifyEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/chat"), strings.HasPrefix(path, "/api/decompose"):
		return classStrategize
	case strings.HasPrefix(path, "/api/approve"),
		strings.HasPrefix(path, "/api/decisions"),
		strings.HasPrefix(path, "/api/compose"):
		return classCoordinate
	case strings.HasPrefix(path, "/api/task/"),
		strings.HasPrefix(path, "/api/agent"),
		strings.HasPrefix(path, "/api/scale"):
		return classDispatch
	case strings.HasPrefix(path, "/api/inference"),
		strings.HasPrefix(path, "/api/batch"),
		strings.HasPrefix(path, "/api/roi/"):
		return classExecute
	}
	return classDefault
}

// UserID returns the identity attached by IdentityMiddleware, or "anonymous"
func UserID(r *http.Request) string {
	if id, ok := r.Context().Value(userIDKey).(string); ok && id != "" {
		return id
	}
	return "anonymous"
}

// IdentityMiddleware propagates the X-User-ID header into the request
// context. Mutating requests without an identity are rejected; reads fall
// back to "anonymous".
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			if r.Method != http.MethodGet {
				respondError(w, http.StatusUnauthorized, "X-User-ID header is required")
				return
			}
			userID = "anonymous"
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimiter holds per-client token buckets, one per endpoint class.
// Buckets refill at the configured per-minute rate with a burst equal to
// one minute's budget.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter // "client|class" -> bucket
	limits  types.RateLimitConfig
}

// NewRateLimiter creates a limiter from the per-class per-minute budgets
func NewRateLimiter(limits types.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*rate.Limiter),
		limits:  limits,
	}
}

// Allow consumes one token from the client's bucket for the class
func (rl *RateLimiter) Allow(client, class string) bool {
	perMinute := rl.limitFor(class)
	if perMinute <= 0 {
		return true
	}

	key := client + "|" + class
	rl.mu.Lock()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	return bucket.Allow()
}

func (rl *RateLimiter) limitFor(class string) int {
	switch class {
	case classStrategize:
		return rl.limits.Strategize
	case classCoordinate:
		return rl.limits.Coordinate
	case classDispatch:
		return rl.limits.Dispatch
	case classExecute:
		return rl.limits.Execute
	}
	return rl.limits.Default
}

// Middleware rejects requests whose class bucket is exhausted
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if client == "" {
			client = "anonymous"
		}
		if !rl.Allow(client, classifyEndpoint(r.URL.Path)) {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeadersMiddleware removes or masks version headers from HTTP
// responses. It strips the default Server header, drops X-Powered-By and
// sets a generic Server header without version info.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapper := &headerRemovalWriter{ResponseWriter: w}
		next.ServeHTTP(wrapper, r)

		if wrapper.headerWritten {
			return
		}
		wrapper.writeSecurityHeaders()
	})
}

// headerRemovalWriter wraps http.ResponseWriter to intercept header writes
type headerRemovalWriter struct {
	http.ResponseWriter
	headerWritten bool
}

// WriteHeader applies the security headers before the status line
func (w *headerRemovalWriter) WriteHeader(statusCode int) {
	w.writeSecurityHeaders()
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write ensures security headers are applied before the body
func (w *headerRemovalWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.writeSecurityHeaders()
	}
	return w.ResponseWriter.Write(b)
}

func (w *headerRemovalWriter) writeSecurityHeaders() {
	if w.headerWritten {
		return
	}
	w.headerWritten = true

	h := w.ResponseWriter.Header()
	h.Del("Server")
	h.Del("X-Powered-By")
	h.Set("Server", "FABRIC")
}

// Flush implements http.Flusher so streaming handlers keep working
func (w *headerRemovalWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
