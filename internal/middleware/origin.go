package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/better-wallet/extension-wallet/internal/logger"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
)

// OriginGuard keeps web pages away from UI routes. Browsers attach Origin
// to every cross-origin fetch and to non-GET requests, and Sec-Fetch-Site
// to everything else; the UI itself runs under an extension scheme or
// outside a browser.
type OriginGuard struct {
	allowed map[string]struct{}
}

// NewOriginGuard admits the origin of uiBaseURL when it is a web origin
// (a UI served over http during development)
func NewOriginGuard(uiBaseURL string) *OriginGuard {
	g := &OriginGuard{allowed: make(map[string]struct{})}
	if u, err := url.Parse(uiBaseURL); err == nil && isWebScheme(u.Scheme) && u.Host != "" {
		g.allowed[strings.ToLower(u.Scheme+"://"+u.Host)] = struct{}{}
	}
	return g
}

// Guard rejects requests sent by web pages with 403
func (g *OriginGuard) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin, ok := g.webOrigin(r); ok {
			logger.Warn(r.Context(), "rejected web origin on UI route", "origin", origin, "path", r.URL.Path)
			WriteError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeForbidden,
				apperrors.ErrForbidden.Message,
				"web origins may not call UI routes",
				http.StatusForbidden,
			))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *OriginGuard) webOrigin(r *http.Request) (string, bool) {
	origin := r.Header.Get("Origin")
	switch {
	case origin == "":
		// No Origin on a same-site GET; a cross-site one still says so here
		return r.Header.Get("Sec-Fetch-Site"), r.Header.Get("Sec-Fetch-Site") == "cross-site"
	case origin == "null":
		return origin, true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return origin, true
	}
	if !isWebScheme(u.Scheme) {
		return "", false
	}
	_, allowed := g.allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
	return origin, !allowed
}

func isWebScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	return scheme == "http" || scheme == "https"
}
