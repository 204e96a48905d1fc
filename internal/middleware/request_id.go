package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/better-wallet/extension-wallet/internal/logger"
)

// maxRequestIDLength bounds request ids accepted from callers
const maxRequestIDLength = 64

// RequestID generates a unique request ID for each incoming request.
// The request ID is:
//   - Stored in context for use by other middleware and handlers
//   - Added to the response as X-Request-ID header for client correlation
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// UI surfaces may pass their own id to correlate a click with daemon logs
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
