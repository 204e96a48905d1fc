package middleware

import (
	"net/http"
)

// MaxBodySize is the default maximum request body size (1MB)
const MaxBodySize = 1 << 20

// LimitBody limits the size of request bodies to prevent DoS attacks
func LimitBody(next http.Handler) http.Handler {
	return LimitBodyTo(MaxBodySize)(next)
}

// LimitBodyTo limits request bodies to max bytes
func LimitBodyTo(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}
