package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/better-wallet/extension-wallet/internal/app"
	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/middleware"
	"github.com/better-wallet/extension-wallet/internal/relay"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// InstallRequest creates a wallet. Seed is 0x-prefixed hex; a random seed
// is generated when it is omitted.
type InstallRequest struct {
	Password string     `json:"password"`
	Seed     types.Seed `json:"seed,omitempty"`
}

// UnlockRequest opens a locked wallet
type UnlockRequest struct {
	Password string `json:"password"`
}

// CreateAccountRequest adds an account to the wallet
type CreateAccountRequest struct {
	Pseudo string `json:"pseudo"`
}

// ResolveRequest carries the user's decision on a pending request
type ResolveRequest struct {
	Decision types.Decision `json:"decision"`
}

// ScanRequest submits a request read from a QR code
type ScanRequest struct {
	URI    string `json:"uri"`
	Origin string `json:"origin"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.walletService.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req InstallRequest
	if !s.decode(w, r, &req) {
		return
	}
	defer req.Seed.Zero()

	acc, err := s.walletService.Install(r.Context(), req.Password, req.Seed)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !s.decode(w, r, &req) {
		return
	}
	st, err := s.walletService.Unlock(r.Context(), req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.walletService.Logout(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.walletService.Save(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.walletService.ListAccounts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": accounts})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !s.decode(w, r, &req) {
		return
	}
	acc, err := s.walletService.CreateAccount(r.Context(), req.Pseudo)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleSelectAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.walletService.SelectAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.walletService.Balance(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handlePendingRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.walletService.PendingRequest(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleResolveRequest(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Decision.Valid() {
		s.writeError(w, apperrors.BadRequest("decision must be accept or reject"))
		return
	}

	msg, err := s.walletService.ResolveRequest(r.Context(), r.PathValue("id"), req.Decision)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	msg, err := s.walletService.Decision(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleScanRequest(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URI) == "" {
		s.writeError(w, apperrors.BadRequest("uri is required"))
		return
	}

	cr, err := s.walletService.SubmitScanned(r.Context(), req.URI, req.Origin)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cr)
}

// handleRequestQR renders ?action=&data= as a wallet+request QR code
func (s *Server) handleRequestQR(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	if action == "" {
		s.writeError(w, apperrors.BadRequest("action is required"))
		return
	}
	size := 0
	if raw := q.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > 1024 {
			s.writeError(w, apperrors.BadRequest("size must be between 64 and 1024"))
			return
		}
		size = n
	}

	png, err := relay.RenderQR(relay.EncodeRequestURI(action, []byte(q.Get("data"))), size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.walletService.Notifications(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []types.AppNotification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list})
}

// handleNotificationStream sends the active account's new notifications as
// server-sent events. The stream ends with an "end" event when the wallet
// locks.
func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	stream, err := s.walletService.StreamNotifications(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer stream.Close()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn(r.Context(), "failed to lift write deadline for stream", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		n, err := stream.Next(r.Context())
		if err != nil {
			if appErr, ok := apperrors.IsAppError(err); ok {
				_ = writeEvent(w, "end", appErr)
				_ = rc.Flush()
			} else if !errors.Is(err, r.Context().Err()) && !errors.Is(err, app.ErrStreamClosed) {
				logger.Warn(r.Context(), "notification stream ended", "error", err)
			}
			return
		}
		if err := writeEvent(w, "notification", n); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func (s *Server) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	if err := s.walletService.MarkNotificationSeen(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRelayConnect upgrades to a content-script port. Browsers always send
// Origin on websocket handshakes; a web origin is bound to the port so a page
// cannot claim another page's origin inside its envelopes.
func (s *Server) handleRelayConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logger.Warn(r.Context(), "relay upgrade failed", "error", err)
		return
	}

	var port relay.Port = relay.NewWSPort(conn)
	defer port.Close()

	origin := r.Header.Get("Origin")
	if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
		port = relay.BindOrigin(port, origin)
	}

	logger.Debug(r.Context(), "relay port connected", "port_id", port.ID(), "origin", origin)
	if err := s.background.Serve(s.baseCtx, port); err != nil {
		logger.Warn(r.Context(), "relay port closed with error", "port_id", port.ID(), "error", err)
	}
}

// decode reads a JSON body into dst, writing a 400 on failure. A body of
// any other type is refused with 415: browsers send those cross-origin
// without a preflight.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" || r.ContentLength != 0 {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			s.writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnsupportedMedia,
				apperrors.ErrUnsupportedMediaType.Message,
				fmt.Sprintf("got Content-Type %q", ct),
				http.StatusUnsupportedMediaType,
			))
			return false
		}
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest, "Request body too large", err.Error(), http.StatusRequestEntityTooLarge))
		case errors.Is(err, io.EOF):
			s.writeError(w, apperrors.BadRequest("request body is required"))
		default:
			s.writeError(w, apperrors.BadRequest("invalid JSON: "+err.Error()))
		}
		return false
	}
	return true
}

// fail writes err, hiding anything that is not an AppError
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		s.writeError(w, appErr)
		return
	}
	logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	s.writeError(w, apperrors.ErrInternalError)
}

func (s *Server) writeError(w http.ResponseWriter, err *apperrors.AppError) {
	middleware.WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
