package middleware

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/better-wallet/extension-wallet/internal/encoding"
	"github.com/better-wallet/extension-wallet/internal/logger"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
)

// UITokenHeader carries the UI token. Authorization: Bearer is also accepted.
const UITokenHeader = "X-UI-Token"

// UIAuth admits UI surfaces presenting the token whose bcrypt hash is
// configured. With no hash nothing is admitted.
type UIAuth struct {
	hash []byte

	// verified remembers digests of tokens that matched, so bcrypt runs
	// once per token rather than once per request
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewUIAuth creates the middleware from a bcrypt hash
func NewUIAuth(hash string) *UIAuth {
	return &UIAuth{hash: []byte(hash), verified: make(map[[sha256.Size]byte]struct{})}
}

// GenerateUIToken returns a random UI token and its bcrypt hash
func GenerateUIToken() (token, hash string, err error) {
	token, err = encoding.RandomID(32)
	if err != nil {
		return "", "", err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash UI token: %w", err)
	}
	return token, string(h), nil
}

// Configured reports whether a token hash is set
func (a *UIAuth) Configured() bool {
	return len(a.hash) > 0
}

// Authenticate rejects requests without a valid UI token
func (a *UIAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Configured() {
			logger.Error(r.Context(), "UI token hash not configured, refusing request", "path", r.URL.Path)
			WriteError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				apperrors.ErrUnauthorized.Message,
				"UI token not configured",
				http.StatusUnauthorized,
			))
			return
		}

		token := r.Header.Get(UITokenHeader)
		if token == "" {
			if scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
				token = strings.TrimSpace(value)
			}
		}
		if token == "" {
			WriteError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				apperrors.ErrUnauthorized.Message,
				"missing UI token",
				http.StatusUnauthorized,
			))
			return
		}

		if !a.check(token) {
			logger.Warn(r.Context(), "rejected UI token", "path", r.URL.Path)
			WriteError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				apperrors.ErrUnauthorized.Message,
				"invalid UI token",
				http.StatusUnauthorized,
			))
			return
		}

		StripCredentialHeaders(r.Header)
		next.ServeHTTP(w, r)
	})
}

func (a *UIAuth) check(token string) bool {
	digest := sha256.Sum256([]byte(token))

	a.mu.RLock()
	_, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return false
	}
	a.mu.Lock()
	a.verified[digest] = struct{}{}
	a.mu.Unlock()
	return true
}
