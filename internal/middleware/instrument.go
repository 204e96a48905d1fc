package middleware

import (
	"net/http"
	"time"

	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/metrics"
)

// Instrument logs and counts every request served by next under route,
// the mux pattern it was registered with. m may be nil.
func Instrument(m *metrics.Metrics, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewStatusRecorder(w)

		logger.Debug(r.Context(), "request started", "method", r.Method, "route", route,
			"headers", RedactHeaders(r.Header))

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		m.ObserveHTTP(r.Method, route, rec.StatusCode, elapsed)
		logger.Info(r.Context(), "request completed", "method", r.Method, "route", route,
			"status", rec.StatusCode, "duration_ms", elapsed.Milliseconds())
	})
}
