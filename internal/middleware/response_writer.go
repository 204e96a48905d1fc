package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// StatusRecorder wraps http.ResponseWriter to capture the response status code.
// It is safe to call WriteHeader multiple times - only the first call takes effect.
type StatusRecorder struct {
	http.ResponseWriter
	StatusCode int
	written    bool
}

// NewStatusRecorder creates a new StatusRecorder with a default status of 200 OK.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code and writes it to the underlying ResponseWriter.
// Only the first call takes effect; subsequent calls are ignored.
func (r *StatusRecorder) WriteHeader(code int) {
	if !r.written {
		r.StatusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

// Write writes data to the underlying ResponseWriter.
// If WriteHeader has not been called, it calls WriteHeader with StatusOK.
func (r *StatusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets the relay websocket upgrade pass through instrumented routes.
// A hijacked connection is recorded as 101 Switching Protocols.
func (r *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil && !r.written {
		r.StatusCode = http.StatusSwitchingProtocols
		r.written = true
	}
	return conn, rw, err
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController
func (r *StatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
