package types

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultAccountPseudo is the display name of the account created at install time
const DefaultAccountPseudo = "Default account"

// Seed length constraints
const (
	SeedLength    = 32
	MinSeedLength = 16
	MaxSeedLength = 64
)

// Seed is the root entropy every account key is derived from.
// It marshals to 0x-prefixed hex.
type Seed []byte

// MarshalText implements encoding.TextMarshaler
func (s Seed) MarshalText() ([]byte, error) {
	return hexutil.Bytes(s).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Seed) UnmarshalText(input []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(input); err != nil {
		return err
	}
	*s = Seed(b)
	return nil
}

// Equal reports whether both seeds hold the same bytes
func (s Seed) Equal(other Seed) bool {
	return bytes.Equal(s, other)
}

// Zero overwrites the seed bytes in place
func (s Seed) Zero() {
	clear(s)
}

// Account is a named key-derivation slot inside a wallet
type Account struct {
	ID                        string  `json:"id"`
	Pseudo                    string  `json:"pseudo"`
	Nonce                     uint64  `json:"nonce"`
	LinkedVirtualBlockchainID *string `json:"linkedVirtualBlockchainId,omitempty"`
}

// Wallet is the decrypted wallet held in an unlocked session.
// Password never reaches the encrypted store; it only lives in session storage.
type Wallet struct {
	Seed             Seed      `json:"seed"`
	Accounts         []Account `json:"accounts"`
	ActiveAccountID  string    `json:"activeAccountId,omitempty"`
	NodeEndpoint     string    `json:"nodeEndpoint,omitempty"`
	ExplorerEndpoint string    `json:"explorerEndpoint,omitempty"`
	Password         string    `json:"password,omitempty"`
}

// FindAccount returns the account with the given id
func (w *Wallet) FindAccount(id string) (*Account, bool) {
	for i := range w.Accounts {
		if w.Accounts[i].ID == id {
			return &w.Accounts[i], true
		}
	}
	return nil, false
}

// ActiveAccount returns the selected account, if any
func (w *Wallet) ActiveAccount() (*Account, bool) {
	if w.ActiveAccountID == "" {
		return nil, false
	}
	return w.FindAccount(w.ActiveAccountID)
}

// NextNonce returns one past the highest nonce ever allocated.
// Nonces are never reused, even if accounts are later dropped from the list.
func (w *Wallet) NextNonce() uint64 {
	var next uint64
	for _, a := range w.Accounts {
		if a.Nonce+1 > next {
			next = a.Nonce + 1
		}
	}
	return next
}

// Clone returns a deep copy of the wallet
func (w *Wallet) Clone() *Wallet {
	c := *w
	c.Seed = append(Seed(nil), w.Seed...)
	c.Accounts = make([]Account, len(w.Accounts))
	for i, a := range w.Accounts {
		c.Accounts[i] = a
		if a.LinkedVirtualBlockchainID != nil {
			v := *a.LinkedVirtualBlockchainID
			c.Accounts[i].LinkedVirtualBlockchainID = &v
		}
	}
	return &c
}

// EncryptedWalletRecord is the persisted, encrypted form of a wallet.
// Both blobs are required for a wallet to be readable.
type EncryptedWalletRecord struct {
	EncryptedSeed     []byte
	EncryptedAccounts []byte
}
