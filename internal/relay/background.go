package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/better-wallet/extension-wallet/internal/crypto"
	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/metrics"
	"github.com/better-wallet/extension-wallet/internal/session"
	"github.com/better-wallet/extension-wallet/internal/validation"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// RequestFragment is appended to the UI base URL for the approval screen
const RequestFragment = "#request"

// ScannedOrigin is recorded for requests submitted from a scanned QR code
// when the scanner supplies no origin
const ScannedOrigin = "qr:scan"

// Notifier appends an entry to an account's notification log
type Notifier interface {
	Notify(ctx context.Context, accountID, title, message string) (*types.AppNotification, error)
}

// Options configures a Background
type Options struct {
	UIBaseURL      string
	PendingTimeout time.Duration
	OutboxSize     int
	Notifier       Notifier
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

type route struct {
	port          Port
	correlationID string
}

// Background is the single arbiter for client requests. It stores inbound
// requests in the session's one-slot queue, brings up the approval UI and
// routes the decision back to the port the request came from.
//
// While a request is pending any newer request is rejected with
// request_pending; the first one wins.
type Background struct {
	sessions *session.Manager
	tabs     TabManager
	outbox   *Outbox
	opts     Options

	// resolveMu serialises everything that ends a request
	resolveMu sync.Mutex

	mu     sync.Mutex
	routes map[string]route
	timers map[string]*time.Timer

	// lifecycle hooks, nil outside tests
	afterSetPending func(requestID string)
	beforeClear     func(requestID string)
}

// NewBackground creates the arbiter
func NewBackground(sessions *session.Manager, tabs TabManager, opts Options) *Background {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Background{
		sessions: sessions,
		tabs:     tabs,
		outbox:   NewOutbox(opts.OutboxSize),
		opts:     opts,
		routes:   make(map[string]route),
		timers:   make(map[string]*time.Timer),
	}
}

// Start subscribes to session events and follows them until ctx is done.
// A pending request cleared by the session itself (logout) is answered
// with a rejection.
func (b *Background) Start(ctx context.Context) {
	events := make(chan session.Event, 32)
	sub := b.sessions.Subscribe(events)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-events:
				b.handleSessionEvent(ctx, ev)
			case <-sub.Err():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (b *Background) handleSessionEvent(ctx context.Context, ev session.Event) {
	// Only logout clears the slot with the locked state attached
	if ev.Kind != session.EventPendingCleared || ev.State != session.StateLocked || ev.RequestID == "" {
		return
	}
	rt, hasRoute := b.takeRoute(ev.RequestID)
	b.rejectLocked(ctx, ev.RequestID, rt, hasRoute)
}

// rejectLocked records the illegal_state rejection of a request dropped by
// logout. Detached requests keep it in the outbox for polling. The outbox
// keeps the first decision, so recording it twice is harmless.
func (b *Background) rejectLocked(ctx context.Context, requestID string, rt route, hasRoute bool) {
	b.opts.Metrics.SetPending(false)
	msg := DecisionMessage{
		RequestID:  requestID,
		Decision:   types.DecisionReject,
		Error:      &ErrorBody{Code: apperrors.ErrCodeIllegalState, Message: "Wallet was locked before a decision was made"},
		ResolvedAt: b.opts.Now().UnixMilli(),
	}
	if hasRoute {
		b.deliver(ctx, rt, &msg)
	} else {
		b.outbox.Put(msg)
	}
	logger.Info(ctx, "pending request dropped by logout", "request_id", requestID, "delivered", hasRoute)
}

// Serve handles one content-script port until it closes. Requests still
// pending from this port are then cleared.
func (b *Background) Serve(ctx context.Context, port Port) error {
	b.opts.Metrics.PortOpened()
	defer b.opts.Metrics.PortClosed()
	defer b.releasePort(port)

	for {
		f, err := port.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrPortClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if f.Kind != FrameEnvelope || f.Envelope == nil {
			continue
		}

		ack := b.handleEnvelope(ctx, port, f.Envelope)
		ack.CorrelationID = f.Envelope.CorrelationID
		if err := port.Send(ctx, Frame{Kind: FrameAck, Ack: ack}); err != nil {
			return nil
		}
	}
}

func (b *Background) handleEnvelope(ctx context.Context, port Port, env *Envelope) *Ack {
	switch env.BackgroundRequestType {
	case BrowserOpenAction:
		if _, err := showUI(ctx, b.tabs, b.opts.UIBaseURL); err != nil {
			logger.Error(ctx, "failed to open wallet UI", "error", err)
			return failAck(apperrors.ErrInternalError)
		}
		return &Ack{Success: true}

	case ClientRequest:
		if err := validation.ValidateOrigin(env.Payload.Origin); err != nil {
			b.opts.Metrics.RelayRequest("invalid")
			return failAck(apperrors.BadRequest(err.Error()))
		}
		var rd RequestData
		if err := json.Unmarshal(env.Payload.Data, &rd); err != nil {
			b.opts.Metrics.RelayRequest("invalid")
			return failAck(apperrors.BadRequest("payload data is not a request"))
		}
		if err := validation.ValidateAction(rd.Action); err != nil {
			b.opts.Metrics.RelayRequest("invalid")
			return failAck(apperrors.BadRequest(err.Error()))
		}

		received := b.opts.Now()
		if env.Payload.Timestamp > 0 {
			received = time.UnixMilli(env.Payload.Timestamp)
		}
		req := &types.ClientRequest{
			ID:         uuid.NewString(),
			Action:     rd.Action,
			Data:       rd.Data,
			Origin:     env.Payload.Origin,
			ReceivedAt: received.UTC(),
			Type:       types.RequestTypeFromAction(rd.Action),
		}
		if err := b.accept(ctx, req, &route{port: port, correlationID: env.CorrelationID}); err != nil {
			return failAck(err)
		}
		return &Ack{Success: true, Data: &AckData{RequestID: req.ID}}

	default:
		return failAck(apperrors.BadRequest(fmt.Sprintf("unknown backgroundRequestType %q", env.BackgroundRequestType)))
	}
}

// accept stores req in the pending slot. rt is nil for detached requests.
func (b *Background) accept(ctx context.Context, req *types.ClientRequest, rt *route) error {
	// The route must exist before the request becomes visible to the UI
	if rt != nil {
		b.mu.Lock()
		b.routes[req.ID] = *rt
		b.mu.Unlock()
	}

	// The gauge goes up first so a Resolve racing with us always lowers it last
	b.opts.Metrics.SetPending(true)
	if err := b.sessions.SetPending(ctx, req); err != nil {
		if rt != nil {
			b.takeRoute(req.ID)
		}
		if errors.Is(err, apperrors.ErrRequestPending) {
			b.opts.Metrics.RelayRequest("busy")
			logger.Warn(ctx, "client request rejected: another request is pending", "origin", req.Origin, "action", req.Action)
			b.notify(ctx, "Request rejected", fmt.Sprintf("%s sent a request while another was awaiting approval", req.Origin))
			return apperrors.ErrRequestPending
		}
		b.opts.Metrics.SetPending(false)
		return err
	}

	b.opts.Metrics.RelayRequest("accepted")
	if b.afterSetPending != nil {
		b.afterSetPending(req.ID)
	}
	if b.opts.PendingTimeout > 0 {
		b.armTimer(ctx, req.ID)
	}

	target := strings.TrimSuffix(b.opts.UIBaseURL, "/") + RequestFragment
	if _, err := showUI(ctx, b.tabs, target); err != nil {
		logger.Error(ctx, "failed to show approval UI", "request_id", req.ID, "error", err)
	}
	return nil
}

// armTimer starts the expiry timer for requestID. The request may have been
// resolved since it was stored; no timer is kept for it then.
func (b *Background) armTimer(ctx context.Context, requestID string) {
	t := time.AfterFunc(b.opts.PendingTimeout, func() {
		b.expire(context.WithoutCancel(ctx), requestID)
	})
	b.mu.Lock()
	b.timers[requestID] = t
	b.mu.Unlock()

	pending, ok, err := b.sessions.Pending(ctx)
	if err != nil || (ok && pending.ID == requestID) {
		return
	}
	b.mu.Lock()
	if b.timers[requestID] == t {
		t.Stop()
		delete(b.timers, requestID)
	}
	b.mu.Unlock()
}

// SubmitScanned enqueues a request decoded from a QR URI. It has no port;
// its decision is kept in the outbox only.
func (b *Background) SubmitScanned(ctx context.Context, uri, origin string) (*types.ClientRequest, error) {
	action, data, err := ParseRequestURI(uri)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	if err := validation.ValidateAction(action); err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	if origin == "" {
		origin = ScannedOrigin
	}

	var raw json.RawMessage
	if len(data) > 0 {
		if json.Valid(data) {
			raw = data
		} else {
			raw, _ = json.Marshal(hexutil.Encode(data))
		}
	}

	req := &types.ClientRequest{
		ID:         uuid.NewString(),
		Action:     action,
		Data:       raw,
		Origin:     origin,
		ReceivedAt: b.opts.Now().UTC(),
		Type:       types.RequestTypeFromAction(action),
	}
	if err := b.accept(ctx, req, nil); err != nil {
		return nil, err
	}
	return req, nil
}

// Resolve records the user's decision for the pending request and sends it
// back to the originating page. Resolving an already resolved request
// returns the recorded decision without sending anything.
func (b *Background) Resolve(ctx context.Context, requestID string, decision types.Decision) (*DecisionMessage, error) {
	if !decision.Valid() {
		return nil, apperrors.BadRequest("decision must be accept or reject")
	}

	b.resolveMu.Lock()
	defer b.resolveMu.Unlock()

	if msg, ok := b.outbox.Get(requestID); ok {
		logger.Debug(ctx, "request already resolved", "request_id", requestID)
		return &msg, nil
	}

	req, ok, err := b.sessions.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || req.ID != requestID {
		return nil, apperrors.RequestNotFound(requestID)
	}

	msg := DecisionMessage{
		RequestID:  req.ID,
		Origin:     req.Origin,
		Decision:   decision,
		ResolvedAt: b.opts.Now().UnixMilli(),
	}
	if decision == types.DecisionAccept && req.Type == types.RequestTypeAuthentication {
		proof, err := b.authenticate(ctx, req)
		if err != nil {
			return nil, err
		}
		msg.Data = proof
	}

	if b.beforeClear != nil {
		b.beforeClear(req.ID)
	}
	rt, hasRoute := b.takeRoute(req.ID)
	cleared, err := b.sessions.ClearPending(ctx, req.ID)
	if err != nil {
		if hasRoute {
			b.mu.Lock()
			b.routes[req.ID] = rt
			b.mu.Unlock()
		}
		return nil, err
	}
	if !cleared {
		// Logout emptied the slot after we read it. The page gets the
		// logout rejection, never this decision.
		logger.Warn(ctx, "request left the pending slot before it was resolved", "request_id", req.ID)
		b.rejectLocked(ctx, req.ID, rt, hasRoute)
		return nil, apperrors.RequestNotFound(req.ID)
	}
	b.opts.Metrics.SetPending(false)

	delivered := false
	if hasRoute {
		delivered = b.deliver(ctx, rt, &msg)
	} else {
		b.outbox.Put(msg)
	}
	b.opts.Metrics.RelayDecision(string(decision), delivered)

	logger.Info(ctx, "client request resolved", "request_id", req.ID, "origin", req.Origin, "decision", decision, "delivered", delivered)
	b.notify(ctx, "Request "+decisionWord(decision), fmt.Sprintf("%s request from %s", req.Action, req.Origin))
	return &msg, nil
}

// Decision returns the recorded decision for requestID
func (b *Background) Decision(requestID string) (*DecisionMessage, bool) {
	msg, ok := b.outbox.Get(requestID)
	if !ok {
		return nil, false
	}
	return &msg, true
}

// authenticate signs the request data with the active account's key
func (b *Background) authenticate(ctx context.Context, req *types.ClientRequest) (json.RawMessage, error) {
	w, err := b.sessions.Wallet(ctx)
	if err != nil {
		return nil, err
	}
	defer w.Seed.Zero()

	acc, ok := w.ActiveAccount()
	if !ok {
		return nil, apperrors.IllegalState("no account selected")
	}
	key, err := crypto.DeriveAccountKey(w.Seed, acc.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account key: %w", err)
	}
	defer crypto.ZeroKey(key)

	sig, err := crypto.SignChallenge(key, req.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(AuthenticationProof{
		Address:   crypto.AccountAddress(key).Hex(),
		Signature: hexutil.Encode(sig),
	})
}

// expire rejects a request still pending after the configured timeout
func (b *Background) expire(ctx context.Context, requestID string) {
	b.resolveMu.Lock()
	defer b.resolveMu.Unlock()

	rt, hasRoute := b.takeRoute(requestID)
	cleared, err := b.sessions.ClearPending(ctx, requestID)
	if err != nil || !cleared {
		if err != nil {
			logger.Error(ctx, "failed to expire client request", "request_id", requestID, "error", err)
		}
		if hasRoute && err != nil {
			b.mu.Lock()
			b.routes[requestID] = rt
			b.mu.Unlock()
		}
		return
	}

	b.opts.Metrics.SetPending(false)
	b.opts.Metrics.RelayRequest("expired")
	logger.Warn(ctx, "client request expired", "request_id", requestID)

	msg := DecisionMessage{
		RequestID:  requestID,
		Decision:   types.DecisionReject,
		Error:      &ErrorBody{Code: apperrors.ErrCodeRequestExpired, Message: apperrors.ErrRequestExpired.Message},
		ResolvedAt: b.opts.Now().UnixMilli(),
	}
	if hasRoute {
		b.deliver(ctx, rt, &msg)
	} else {
		b.outbox.Put(msg)
	}
}

// releasePort clears requests that came from a port that has closed
func (b *Background) releasePort(port Port) {
	b.resolveMu.Lock()
	defer b.resolveMu.Unlock()

	b.mu.Lock()
	var orphaned []string
	for id, rt := range b.routes {
		if rt.port == port {
			orphaned = append(orphaned, id)
			delete(b.routes, id)
			if t, ok := b.timers[id]; ok {
				t.Stop()
				delete(b.timers, id)
			}
		}
	}
	b.mu.Unlock()

	ctx := context.Background()
	for _, id := range orphaned {
		cleared, err := b.sessions.ClearPending(ctx, id)
		if err != nil {
			logger.Error(ctx, "failed to clear orphaned request", "request_id", id, "error", err)
			continue
		}
		if cleared {
			b.opts.Metrics.SetPending(false)
			logger.Info(ctx, "originating page closed, pending request cleared", "request_id", id)
		}
	}
}

// takeRoute removes and returns the route and timer for requestID
func (b *Background) takeRoute(requestID string) (route, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.timers[requestID]; ok {
		t.Stop()
		delete(b.timers, requestID)
	}
	rt, ok := b.routes[requestID]
	delete(b.routes, requestID)
	return rt, ok
}

// deliver sends msg down rt and records it. Delivery is not retried.
func (b *Background) deliver(ctx context.Context, rt route, msg *DecisionMessage) bool {
	msg.CorrelationID = rt.correlationID
	b.outbox.Put(*msg)

	if err := rt.port.Send(ctx, Frame{Kind: FrameDecision, Decision: msg}); err != nil {
		logger.Warn(ctx, "decision could not be delivered", "request_id", msg.RequestID,
			"code", apperrors.ErrCodeDeliveryFailed, "error", err)
		return false
	}
	return true
}

func (b *Background) notify(ctx context.Context, title, message string) {
	if b.opts.Notifier == nil {
		return
	}
	acc, err := b.sessions.ActiveAccount(ctx)
	if err != nil {
		return
	}
	if _, err := b.opts.Notifier.Notify(ctx, acc.ID, title, message); err != nil {
		logger.Warn(ctx, "failed to record notification", "account_id", acc.ID, "error", err)
	}
}

func failAck(err error) *Ack {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		appErr = apperrors.ErrInternalError
	}
	msg := appErr.Message
	if appErr.Detail != "" {
		msg = appErr.Message + ": " + appErr.Detail
	}
	return &Ack{Success: false, Error: &ErrorBody{Code: appErr.Code, Message: msg}}
}

func decisionWord(d types.Decision) string {
	if d == types.DecisionAccept {
		return "approved"
	}
	return "rejected"
}
