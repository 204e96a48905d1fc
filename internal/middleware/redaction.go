package middleware

import (
	"net/http"
	"strings"
)

const redactedValue = "[REDACTED]"

var redactHeaderKeys = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	UITokenHeader,
}

func isSensitiveHeader(key string) bool {
	for _, k := range redactHeaderKeys {
		if strings.EqualFold(k, strings.TrimSpace(key)) {
			return true
		}
	}
	return false
}

func redactHeaderValue(key, value string) string {
	if strings.EqualFold(key, "Authorization") {
		scheme, _, found := strings.Cut(strings.TrimSpace(value), " ")
		if found && scheme != "" {
			return scheme + " " + redactedValue
		}
	}
	return redactedValue
}

// RedactHeaders returns a copy of h with the UI token and other credentials
// replaced by a constant. Use this for safe logging.
func RedactHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}

	out := make(http.Header, len(h))
	for key, values := range h {
		copied := make([]string, len(values))
		for i, v := range values {
			if isSensitiveHeader(key) {
				v = redactHeaderValue(key, v)
			}
			copied[i] = v
		}
		out[key] = copied
	}
	return out
}

// StripCredentialHeaders removes the UI token from h in-place once it has
// been checked, so handlers and logs never see it.
func StripCredentialHeaders(h http.Header) {
	if h == nil {
		return
	}
	h.Del("Authorization")
	h.Del(UITokenHeader)
}
