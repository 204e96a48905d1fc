package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/extension-wallet/internal/crypto"
	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/metrics"
	"github.com/better-wallet/extension-wallet/internal/node"
	"github.com/better-wallet/extension-wallet/internal/notify"
	"github.com/better-wallet/extension-wallet/internal/relay"
	"github.com/better-wallet/extension-wallet/internal/session"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// UI routes, in the order they are checked
const (
	RouteOnboarding    = "onboarding"
	RouteUnlock        = "unlock"
	RouteSelectAccount = "selectAccount"
	RouteRequest       = "request"
	RouteHome          = "home"
)

// WalletService is the set of operations UI surfaces invoke
type WalletService struct {
	sessions      *session.Manager
	relay         *relay.Background
	notifications *notify.Store
	node          *node.Client
	metrics       *metrics.Metrics
}

// NewWalletService creates a new wallet service. nodeClient and m may be nil.
func NewWalletService(
	sessions *session.Manager,
	bg *relay.Background,
	notifications *notify.Store,
	nodeClient *node.Client,
	m *metrics.Metrics,
) *WalletService {
	return &WalletService{
		sessions:      sessions,
		relay:         bg,
		notifications: notifications,
		node:          nodeClient,
		metrics:       m,
	}
}

// Start counts session transitions until ctx is done
func (s *WalletService) Start(ctx context.Context) {
	events := make(chan session.Event, 32)
	sub := s.sessions.Subscribe(events)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-events:
				s.metrics.SessionTransition(ev.Kind.String())
			case <-sub.Err():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Status is what a UI surface needs to decide which screen to show
type Status struct {
	State          string               `json:"state"`
	Route          string               `json:"route"`
	ActiveAccount  *AccountView         `json:"activeAccount,omitempty"`
	PendingRequest *types.ClientRequest `json:"pendingRequest,omitempty"`
	Unseen         int                  `json:"unseenNotifications"`
}

// AccountView is an account together with its derived address
type AccountView struct {
	types.Account
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

// Balance is an account's on-chain position
type Balance struct {
	AccountID        string `json:"accountId"`
	Address          string `json:"address"`
	Wei              string `json:"wei"`
	TransactionCount uint64 `json:"transactionCount"`
	ExplorerURL      string `json:"explorerUrl,omitempty"`
}

// Status reports the session state and the screen to route to. A pending
// request is only routed to once the wallet is unlocked with an account.
func (s *WalletService) Status(ctx context.Context) (*Status, error) {
	st, err := s.sessions.State(ctx)
	if err != nil {
		return nil, err
	}
	pending, _, err := s.sessions.Pending(ctx)
	if err != nil {
		return nil, err
	}

	out := &Status{State: st.Name(), PendingRequest: pending}
	switch st := st.(type) {
	case session.NoWallet:
		out.Route = RouteOnboarding
	case session.Locked:
		out.Route = RouteUnlock
	case session.Unlocked:
		acc, ok := st.Wallet.ActiveAccount()
		if !ok {
			out.Route = RouteSelectAccount
			break
		}
		view, err := accountView(st.Wallet, *acc)
		if err != nil {
			return nil, err
		}
		out.ActiveAccount = view
		if out.Unseen, err = s.notifications.Unseen(ctx, acc.ID); err != nil {
			return nil, err
		}
		out.Route = RouteHome
		if pending != nil {
			out.Route = RouteRequest
		}
	}
	return out, nil
}

// Install creates the wallet and returns its default account
func (s *WalletService) Install(ctx context.Context, password string, seed types.Seed) (*AccountView, error) {
	w, err := s.sessions.Install(ctx, password, seed)
	if err != nil {
		return nil, err
	}
	defer w.Seed.Zero()

	acc, _ := w.ActiveAccount()
	return accountView(w, *acc)
}

// Unlock opens the session and returns the resulting status
func (s *WalletService) Unlock(ctx context.Context, password string) (*Status, error) {
	w, err := s.sessions.Unlock(ctx, password)
	if err != nil {
		return nil, err
	}
	w.Seed.Zero()
	return s.Status(ctx)
}

// Logout locks the wallet. A pending request is rejected.
func (s *WalletService) Logout(ctx context.Context) error {
	return s.sessions.Logout(ctx)
}

// Save persists the session's active account selection
func (s *WalletService) Save(ctx context.Context) error {
	return s.sessions.SaveActiveAccount(ctx)
}

// ListAccounts returns every account with its address
func (s *WalletService) ListAccounts(ctx context.Context) ([]AccountView, error) {
	w, err := s.sessions.Wallet(ctx)
	if err != nil {
		return nil, err
	}
	defer w.Seed.Zero()

	out := make([]AccountView, 0, len(w.Accounts))
	for _, acc := range w.Accounts {
		view, err := accountView(w, acc)
		if err != nil {
			return nil, err
		}
		out = append(out, *view)
	}
	return out, nil
}

// CreateAccount adds an account, makes it active and records a notification
func (s *WalletService) CreateAccount(ctx context.Context, pseudo string) (*AccountView, error) {
	acc, err := s.sessions.CreateAccount(ctx, pseudo)
	if err != nil {
		return nil, err
	}

	w, err := s.sessions.Wallet(ctx)
	if err != nil {
		return nil, err
	}
	defer w.Seed.Zero()

	view, err := accountView(w, *acc)
	if err != nil {
		return nil, err
	}

	title := "Account created"
	message := fmt.Sprintf("%s is ready to use", acc.Pseudo)
	if link := node.ExplorerLink(w.ExplorerEndpoint, common.HexToAddress(view.Address)); link != "" {
		_, err = s.notifications.NotifyWithLink(ctx, acc.ID, title, message, "View on explorer", link)
	} else {
		_, err = s.notifications.Notify(ctx, acc.ID, title, message)
	}
	if err != nil {
		logger.Warn(ctx, "failed to record notification", "account_id", acc.ID, "error", err)
	}
	return view, nil
}

// SelectAccount makes id the active account for this session
func (s *WalletService) SelectAccount(ctx context.Context, id string) (*AccountView, error) {
	if _, err := s.sessions.SelectAccount(ctx, id); err != nil {
		return nil, err
	}
	w, err := s.sessions.Wallet(ctx)
	if err != nil {
		return nil, err
	}
	defer w.Seed.Zero()

	acc, _ := w.FindAccount(id)
	return accountView(w, *acc)
}

// Balance queries the wallet's node for an account's balance
func (s *WalletService) Balance(ctx context.Context, accountID string) (*Balance, error) {
	if s.node == nil {
		return nil, apperrors.IllegalState("no node client configured")
	}

	w, err := s.sessions.Wallet(ctx)
	if err != nil {
		return nil, err
	}
	defer w.Seed.Zero()

	acc, ok := w.FindAccount(accountID)
	if !ok {
		return nil, apperrors.InvalidAccountReference(accountID)
	}
	if w.NodeEndpoint == "" {
		return nil, apperrors.IllegalState("wallet has no node endpoint")
	}
	addr, err := crypto.DeriveAccountAddress(w.Seed, acc.Nonce)
	if err != nil {
		return nil, err
	}

	wei, err := s.node.Balance(ctx, w.NodeEndpoint, addr)
	if err != nil {
		return nil, err
	}
	count, err := s.node.TransactionCount(ctx, w.NodeEndpoint, addr)
	if err != nil {
		return nil, err
	}
	return &Balance{
		AccountID:        acc.ID,
		Address:          addr.Hex(),
		Wei:              wei.String(),
		TransactionCount: count,
		ExplorerURL:      node.ExplorerLink(w.ExplorerEndpoint, addr),
	}, nil
}

// PendingRequest returns the request awaiting a decision
func (s *WalletService) PendingRequest(ctx context.Context) (*types.ClientRequest, error) {
	req, ok, err := s.sessions.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrRequestNotFound
	}
	return req, nil
}

// ResolveRequest records the user's decision and answers the page
func (s *WalletService) ResolveRequest(ctx context.Context, id string, decision types.Decision) (*relay.DecisionMessage, error) {
	return s.relay.Resolve(ctx, id, decision)
}

// Decision returns the recorded decision for a resolved request
func (s *WalletService) Decision(id string) (*relay.DecisionMessage, error) {
	msg, ok := s.relay.Decision(id)
	if !ok {
		return nil, apperrors.RequestNotFound(id)
	}
	return msg, nil
}

// SubmitScanned enqueues a request read from a QR code
func (s *WalletService) SubmitScanned(ctx context.Context, uri, origin string) (*types.ClientRequest, error) {
	return s.relay.SubmitScanned(ctx, uri, origin)
}

// Notifications lists the active account's notifications
func (s *WalletService) Notifications(ctx context.Context) ([]types.AppNotification, error) {
	acc, err := s.sessions.ActiveAccount(ctx)
	if err != nil {
		return nil, err
	}
	return s.notifications.List(ctx, acc.ID)
}

// MarkNotificationSeen marks one of the active account's notifications seen
func (s *WalletService) MarkNotificationSeen(ctx context.Context, id string) error {
	acc, err := s.sessions.ActiveAccount(ctx)
	if err != nil {
		return err
	}
	return s.notifications.MarkSeen(ctx, acc.ID, id)
}

func accountView(w *types.Wallet, acc types.Account) (*AccountView, error) {
	addr, err := crypto.DeriveAccountAddress(w.Seed, acc.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account address: %w", err)
	}
	return &AccountView{Account: acc, Address: addr.Hex(), Active: acc.ID == w.ActiveAccountID}, nil
}
