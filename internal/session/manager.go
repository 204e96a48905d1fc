// Package session holds the decrypted wallet for the lifetime of a browser
// session and is the single source of truth for lock state, the active
// account and the one-slot pending client request.
//
// The session value is rewritten whole on every change. Two UI surfaces
// writing concurrently through different processes are not merged: the last
// write wins. A Manager serialises its own callers only.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/better-wallet/extension-wallet/internal/encoding"
	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/storage"
	"github.com/better-wallet/extension-wallet/internal/validation"
	"github.com/better-wallet/extension-wallet/internal/walletstore"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// Session storage keys
const (
	KeyWallet         = "wallet"
	KeyPendingRequest = "pendingClientRequest"
)

// Endpoints are the network defaults given to new and unlocked wallets
type Endpoints struct {
	Node     string
	Explorer string
}

// Manager runs the session state machine
type Manager struct {
	mu        sync.Mutex
	store     *walletstore.Storage
	session   storage.KV
	endpoints Endpoints
	feed      event.Feed
}

// NewManager creates a Manager over the encrypted wallet store and a session KV
func NewManager(store *walletstore.Storage, session storage.KV, endpoints Endpoints) *Manager {
	return &Manager{store: store, session: session, endpoints: endpoints}
}

// Subscribe registers sink for session events. Sends block until the sink
// receives, so sinks should be buffered and drained.
func (m *Manager) Subscribe(sink chan<- Event) event.Subscription {
	return m.feed.Subscribe(sink)
}

func (m *Manager) emit(ev Event) {
	m.feed.Send(ev)
}

// State returns the current state
func (m *Manager) State(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(ctx)
}

func (m *Manager) state(ctx context.Context) (State, error) {
	w, err := m.loadWallet(ctx)
	if err != nil {
		return nil, err
	}
	if w != nil {
		return Unlocked{Wallet: w}, nil
	}

	empty, err := m.store.IsEmpty(ctx)
	if err != nil {
		return nil, err
	}
	if empty {
		return NoWallet{}, nil
	}
	return Locked{}, nil
}

// Install creates and persists a new wallet with one default account and
// unlocks it. A nil seed is replaced by fresh random entropy.
func (m *Manager) Install(ctx context.Context, password string, seed types.Seed) (*types.Wallet, error) {
	if err := validation.ValidateNewPassword(password); err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}

	if seed == nil {
		b, err := encoding.RandomBytes(types.SeedLength)
		if err != nil {
			return nil, err
		}
		seed = b
	} else {
		if err := validation.ValidateSeed(seed); err != nil {
			return nil, apperrors.BadRequest(err.Error())
		}
		seed = append(types.Seed(nil), seed...)
	}

	id, err := encoding.NewAccountID()
	if err != nil {
		return nil, err
	}

	w := &types.Wallet{
		Seed:             seed,
		Accounts:         []types.Account{{ID: id, Pseudo: types.DefaultAccountPseudo, Nonce: 0}},
		ActiveAccountID:  id,
		NodeEndpoint:     m.endpoints.Node,
		ExplorerEndpoint: m.endpoints.Explorer,
	}

	m.mu.Lock()
	err = m.install(ctx, password, w)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "wallet installed", "state", StateUnlocked, "account_id", id)
	m.emit(Event{Kind: EventInstalled, State: StateUnlocked, AccountID: id})
	return w.Clone(), nil
}

func (m *Manager) install(ctx context.Context, password string, w *types.Wallet) error {
	empty, err := m.store.IsEmpty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		return apperrors.ErrWalletExists
	}

	h, err := m.store.CreateFromPassword(ctx, password)
	if err != nil {
		return err
	}
	defer h.Destroy()

	if err := m.store.Write(ctx, h, w); err != nil {
		return err
	}

	w.Password = password
	return m.saveWallet(ctx, w)
}

// Unlock decrypts the stored wallet into the session. On a wrong password
// the state stays Locked and ErrDecryption is returned.
func (m *Manager) Unlock(ctx context.Context, password string) (*types.Wallet, error) {
	m.mu.Lock()
	w, err := m.unlock(ctx, password)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "wallet unlocked", "state", StateUnlocked, "account_id", w.ActiveAccountID)
	m.emit(Event{Kind: EventUnlocked, State: StateUnlocked, AccountID: w.ActiveAccountID})
	return w.Clone(), nil
}

func (m *Manager) unlock(ctx context.Context, password string) (*types.Wallet, error) {
	h, err := m.store.CreateFromPassword(ctx, password)
	if err != nil {
		return nil, err
	}
	defer h.Destroy()

	w, err := m.store.Read(ctx, h)
	if err != nil {
		return nil, err
	}

	w.Password = password
	if w.NodeEndpoint == "" {
		w.NodeEndpoint = m.endpoints.Node
	}
	if w.ExplorerEndpoint == "" {
		w.ExplorerEndpoint = m.endpoints.Explorer
	}
	if err := m.saveWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Logout drops the session wallet and any pending request.
// Encrypted storage is left untouched.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	pending, _ := m.loadPending(ctx)
	err := m.session.Delete(ctx, KeyWallet, KeyPendingRequest)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	logger.Info(ctx, "wallet locked", "state", StateLocked)
	if pending != nil {
		m.emit(Event{Kind: EventPendingCleared, State: StateLocked, RequestID: pending.ID})
	}
	m.emit(Event{Kind: EventLocked, State: StateLocked})
	return nil
}

// SelectAccount makes id the active account in the session wallet only
func (m *Manager) SelectAccount(ctx context.Context, id string) (*types.Account, error) {
	return m.selectAccount(ctx, id, false)
}

// SwitchAccount is SelectAccount for a session that already has an active account
func (m *Manager) SwitchAccount(ctx context.Context, id string) (*types.Account, error) {
	return m.selectAccount(ctx, id, true)
}

func (m *Manager) selectAccount(ctx context.Context, id string, requireActive bool) (*types.Account, error) {
	m.mu.Lock()
	w, err := m.requireUnlocked(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if requireActive {
		if _, ok := w.ActiveAccount(); !ok {
			m.mu.Unlock()
			return nil, apperrors.IllegalState("no active account to switch from")
		}
	}
	acc, ok := w.FindAccount(id)
	if !ok {
		m.mu.Unlock()
		return nil, apperrors.InvalidAccountReference(id)
	}
	w.ActiveAccountID = id
	err = m.saveWallet(ctx, w)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "account selected", "account_id", id)
	m.emit(Event{Kind: EventAccountSelected, State: StateUnlocked, AccountID: id})
	out := *acc
	return &out, nil
}

// CreateAccount appends an account with the next nonce and makes it active.
// The account list is persisted to encrypted storage immediately so that
// a nonce is never handed out twice.
func (m *Manager) CreateAccount(ctx context.Context, pseudo string) (*types.Account, error) {
	if err := validation.ValidatePseudo(pseudo); err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}

	id, err := encoding.NewAccountID()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	acc, err := m.createAccount(ctx, id, pseudo)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "account created", "account_id", acc.ID, "nonce", acc.Nonce)
	m.emit(Event{Kind: EventAccountCreated, State: StateUnlocked, AccountID: acc.ID})
	return acc, nil
}

func (m *Manager) createAccount(ctx context.Context, id, pseudo string) (*types.Account, error) {
	w, err := m.requireUnlocked(ctx)
	if err != nil {
		return nil, err
	}

	acc := types.Account{ID: id, Pseudo: pseudo, Nonce: w.NextNonce()}
	w.Accounts = append(w.Accounts, acc)
	w.ActiveAccountID = id

	if err := m.persistAccounts(ctx, w); err != nil {
		return nil, err
	}
	if err := m.saveWallet(ctx, w); err != nil {
		return nil, err
	}
	return &acc, nil
}

// SaveActiveAccount writes the session's active account back to encrypted storage
func (m *Manager) SaveActiveAccount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := m.requireUnlocked(ctx)
	if err != nil {
		return err
	}
	if err := m.persistAccounts(ctx, w); err != nil {
		return err
	}
	logger.Info(ctx, "active account saved", "account_id", w.ActiveAccountID)
	return nil
}

func (m *Manager) persistAccounts(ctx context.Context, w *types.Wallet) error {
	h, err := m.store.CreateFromPassword(ctx, w.Password)
	if err != nil {
		return err
	}
	defer h.Destroy()
	return m.store.WriteAccounts(ctx, h, w)
}

// ListAccounts returns accounts in creation order
func (m *Manager) ListAccounts(ctx context.Context) ([]types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := m.requireUnlocked(ctx)
	if err != nil {
		return nil, err
	}
	return w.Clone().Accounts, nil
}

// ActiveAccount returns the selected account
func (m *Manager) ActiveAccount(ctx context.Context) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := m.requireUnlocked(ctx)
	if err != nil {
		return nil, err
	}
	acc, ok := w.ActiveAccount()
	if !ok {
		return nil, apperrors.IllegalState("no account selected")
	}
	out := *acc
	return &out, nil
}

// Wallet returns a copy of the unlocked session wallet, seed included
func (m *Manager) Wallet(ctx context.Context) (*types.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requireUnlocked(ctx)
}

// requireUnlocked loads the session wallet or explains why there is none
func (m *Manager) requireUnlocked(ctx context.Context) (*types.Wallet, error) {
	st, err := m.state(ctx)
	if err != nil {
		return nil, err
	}
	switch s := st.(type) {
	case Unlocked:
		return s.Wallet, nil
	case NoWallet:
		return nil, apperrors.ErrNotInitialized
	default:
		return nil, apperrors.IllegalState("wallet is locked")
	}
}

func (m *Manager) loadWallet(ctx context.Context) (*types.Wallet, error) {
	raw, ok, err := m.session.Get(ctx, KeyWallet)
	if err != nil {
		return nil, fmt.Errorf("failed to read session wallet: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var w types.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		logger.Error(ctx, "session wallet is unreadable", "error", err)
		return nil, apperrors.IllegalState("session wallet is unreadable")
	}
	return &w, nil
}

func (m *Manager) saveWallet(ctx context.Context, w *types.Wallet) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal session wallet: %w", err)
	}
	defer clear(raw)
	if err := storage.Set(ctx, m.session, KeyWallet, raw); err != nil {
		return fmt.Errorf("failed to write session wallet: %w", err)
	}
	return nil
}
