package session

import (
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// State is one of NoWallet, Locked or Unlocked
type State interface {
	Name() string
	isState()
}

// NoWallet means extension-local storage holds no wallet yet
type NoWallet struct{}

// Locked means a wallet is installed but no decrypted copy is in the session
type Locked struct{}

// Unlocked carries the decrypted session wallet
type Unlocked struct {
	Wallet *types.Wallet
}

// State names as reported to UI surfaces
const (
	StateNoWallet = "noWallet"
	StateLocked   = "locked"
	StateUnlocked = "unlocked"
)

func (NoWallet) Name() string { return StateNoWallet }
func (Locked) Name() string   { return StateLocked }
func (Unlocked) Name() string { return StateUnlocked }

func (NoWallet) isState() {}
func (Locked) isState()   {}
func (Unlocked) isState() {}

// HasActive reports whether an account is selected
func (u Unlocked) HasActive() bool {
	_, ok := u.Wallet.ActiveAccount()
	return ok
}

// EventKind identifies a session transition
type EventKind int

const (
	EventInstalled EventKind = iota
	EventUnlocked
	EventLocked
	EventAccountSelected
	EventAccountCreated
	EventPendingSet
	EventPendingCleared
)

func (k EventKind) String() string {
	switch k {
	case EventInstalled:
		return "installed"
	case EventUnlocked:
		return "unlocked"
	case EventLocked:
		return "locked"
	case EventAccountSelected:
		return "accountSelected"
	case EventAccountCreated:
		return "accountCreated"
	case EventPendingSet:
		return "pendingSet"
	case EventPendingCleared:
		return "pendingCleared"
	default:
		return "unknown"
	}
}

// Event is fired on every session transition
type Event struct {
	Kind      EventKind
	State     string
	AccountID string
	RequestID string
}
