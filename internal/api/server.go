package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/better-wallet/extension-wallet/internal/app"
	"github.com/better-wallet/extension-wallet/internal/config"
	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/metrics"
	"github.com/better-wallet/extension-wallet/internal/middleware"
	"github.com/better-wallet/extension-wallet/internal/relay"
)

// Server represents the HTTP server UI surfaces and content scripts talk to
type Server struct {
	config        *config.Config
	walletService *app.WalletService
	background    *relay.Background
	metrics       *metrics.Metrics
	uiAuth        *middleware.UIAuth
	originGuard   *middleware.OriginGuard
	rateLimiter   *middleware.RateLimiter
	upgrader      *websocket.Upgrader
	httpServer    *http.Server

	// baseCtx outlives requests; relay connections are served under it
	baseCtx context.Context
}

// NewServer creates a new API server. ctx bounds background work such as
// relay connections and rate limiter cleanup. UI routes refuse every
// request when cfg carries no UI token hash.
func NewServer(
	ctx context.Context,
	cfg *config.Config,
	walletService *app.WalletService,
	background *relay.Background,
	m *metrics.Metrics,
) *Server {
	return &Server{
		config:        cfg,
		walletService: walletService,
		background:    background,
		metrics:       m,
		uiAuth:        middleware.NewUIAuth(cfg.UITokenHash),
		originGuard:   middleware.NewOriginGuard(cfg.UIBaseURL),
		rateLimiter:   middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled),
		upgrader:      relay.NewUpgrader(func(r *http.Request) bool { return true }),
		baseCtx:       ctx,
	}
}

// Handler builds the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics (no auth required)
	s.handle(mux, "GET /health", http.HandlerFunc(s.handleHealth), false)
	s.handle(mux, "GET /metrics", s.metrics.Handler(), false)

	// Session
	s.handle(mux, "GET /v1/session", http.HandlerFunc(s.handleStatus), true)
	s.handle(mux, "POST /v1/session/install", http.HandlerFunc(s.handleInstall), true)
	s.handle(mux, "POST /v1/session/unlock", http.HandlerFunc(s.handleUnlock), true)
	s.handle(mux, "POST /v1/session/logout", http.HandlerFunc(s.handleLogout), true)
	s.handle(mux, "POST /v1/session/save", http.HandlerFunc(s.handleSave), true)

	// Accounts
	s.handle(mux, "GET /v1/accounts", http.HandlerFunc(s.handleListAccounts), true)
	s.handle(mux, "POST /v1/accounts", http.HandlerFunc(s.handleCreateAccount), true)
	s.handle(mux, "POST /v1/accounts/{id}/select", http.HandlerFunc(s.handleSelectAccount), true)
	s.handle(mux, "GET /v1/accounts/{id}/balance", http.HandlerFunc(s.handleBalance), true)

	// Client requests
	s.handle(mux, "GET /v1/requests/pending", http.HandlerFunc(s.handlePendingRequest), true)
	s.handle(mux, "POST /v1/requests/scan", http.HandlerFunc(s.handleScanRequest), true)
	s.handle(mux, "GET /v1/requests/qr", http.HandlerFunc(s.handleRequestQR), true)
	s.handle(mux, "POST /v1/requests/{id}/resolve", http.HandlerFunc(s.handleResolveRequest), true)
	s.handle(mux, "GET /v1/requests/{id}/decision", http.HandlerFunc(s.handleDecision), true)

	// Notifications
	s.handle(mux, "GET /v1/notifications", http.HandlerFunc(s.handleNotifications), true)
	s.handle(mux, "GET /v1/notifications/stream", http.HandlerFunc(s.handleNotificationStream), true)
	s.handle(mux, "POST /v1/notifications/{id}/seen", http.HandlerFunc(s.handleMarkSeen), true)

	// Content-script port. Pages are untrusted, so there is no UI auth here.
	s.handle(mux, "GET /v1/relay/connect", http.HandlerFunc(s.handleRelayConnect), false)

	return middleware.RequestID(mux)
}

// handle registers h under pattern behind
// logging -> metrics -> rate limit -> body limit -> [origin guard -> UI auth]
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.Handler, uiAuth bool) {
	if uiAuth {
		h = s.uiAuth.Authenticate(h)
		h = s.originGuard.Guard(h)
	}
	h = middleware.LimitBody(h)
	h = s.rateLimiter.Limit(h)
	mux.Handle(pattern, middleware.Instrument(s.metrics, pattern, h))
}

// Addr is the address Start listens on
func (s *Server) Addr() string {
	return s.config.ListenAddr()
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.Addr(),
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return s.baseCtx
		},
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for a user to approve a request in the UI. Relay
		// connections are hijacked and the notification stream lifts it.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if !s.config.IsLoopback() {
		logger.Warn(s.baseCtx, "listening beyond loopback; the UI token is the only guard", "addr", s.Addr())
	}
	logger.Info(s.baseCtx, "starting server", "addr", s.Addr(), "ui_token", s.uiAuth.Configured())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
