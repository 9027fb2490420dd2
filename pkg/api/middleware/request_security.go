package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// SecureJSONMiddleware sets secure defaults for JSON responses.
func SecureJSONMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent JSON from being interpreted as HTML
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware ensures each request has a unique ID for tracing.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = generateRequestID()
				r.Header.Set("X-Request-ID", requestID)
			}
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r)
		})
	}
}

// generateRequestID creates a unique request identifier using UUID v4.
func generateRequestID() string {
	return uuid.NewString()
}
