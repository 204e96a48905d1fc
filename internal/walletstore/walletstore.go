// Package walletstore persists the encrypted seed and the encrypted account
// list in extension-local storage. Both records are sealed with the same
// password-derived key and can only be read back with the same password.
package walletstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/better-wallet/extension-wallet/internal/crypto"
	"github.com/better-wallet/extension-wallet/internal/envelope"
	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/storage"
	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
	"github.com/better-wallet/extension-wallet/pkg/types"
)

// Record keys in extension-local storage
const (
	KeyEncryptedSeed     = "encryptedSeed"
	KeyEncryptedAccounts = "encryptedAccounts"
)

// Decryption failure reasons. They are logged and never returned.
const (
	reasonAuthTag        = "auth_tag"
	reasonMalformed      = "malformed"
	reasonRecordMismatch = "record_mismatch"
)

// accountsRecord is the plaintext of the encryptedAccounts record.
// SeedFingerprint ties it to the seed record it was written with.
type accountsRecord struct {
	Accounts         []types.Account `json:"accounts"`
	ActiveAccountID  string          `json:"activeAccountId,omitempty"`
	NodeEndpoint     string          `json:"nodeEndpoint,omitempty"`
	ExplorerEndpoint string          `json:"explorerEndpoint,omitempty"`
	SeedFingerprint  string          `json:"seedFingerprint"`
}

// Handle is bound to one password-derived key
type Handle struct {
	key *crypto.PasswordKey
}

// Destroy wipes the key material held by the handle
func (h *Handle) Destroy() {
	if h != nil && h.key != nil {
		h.key.Destroy()
	}
}

// Storage is the Secure Wallet Storage
type Storage struct {
	kv       storage.KV
	envelope envelope.Provider
	params   crypto.KDFParams
}

// New creates a Storage over kv. A nil provider stores password ciphertexts unwrapped.
func New(kv storage.KV, provider envelope.Provider, params crypto.KDFParams) *Storage {
	if provider == nil {
		provider = envelope.NoneProvider{}
	}
	return &Storage{kv: kv, envelope: provider, params: params}
}

// IsEmpty reports whether no wallet has been installed yet
func (s *Storage) IsEmpty(ctx context.Context) (bool, error) {
	ok, err := storage.Has(ctx, s.kv, KeyEncryptedSeed)
	if err != nil {
		return false, fmt.Errorf("failed to check wallet record: %w", err)
	}
	return !ok, nil
}

// CreateFromPassword derives a key from password. It does not touch storage.
func (s *Storage) CreateFromPassword(ctx context.Context, password string) (*Handle, error) {
	key, err := crypto.NewPasswordKey(ctx, password, s.params)
	if err != nil {
		return nil, fmt.Errorf("failed to derive password key: %w", err)
	}
	return &Handle{key: key}, nil
}

// Read loads and decrypts both records.
// It returns ErrNotInitialized if either record is absent and ErrDecryption
// for a wrong password, a tampered blob or a mismatched record pair.
func (s *Storage) Read(ctx context.Context, h *Handle) (*types.Wallet, error) {
	rec, err := s.loadRecord(ctx)
	if err != nil {
		return nil, err
	}

	seed, err := s.open(ctx, h, crypto.PurposeSeed, rec.EncryptedSeed)
	if err != nil {
		return nil, err
	}
	rawAccounts, err := s.open(ctx, h, crypto.PurposeAccounts, rec.EncryptedAccounts)
	if err != nil {
		clear(seed)
		return nil, err
	}

	var accounts accountsRecord
	if err := json.Unmarshal(rawAccounts, &accounts); err != nil {
		clear(seed)
		logger.Error(ctx, "accounts record is not valid JSON", "error", err)
		return nil, apperrors.ErrCorruptedStorage
	}
	if accounts.SeedFingerprint != crypto.SeedFingerprint(seed) {
		clear(seed)
		logger.Warn(ctx, "wallet decryption failed", "reason", reasonRecordMismatch)
		return nil, apperrors.ErrDecryption
	}
	if len(accounts.Accounts) == 0 {
		clear(seed)
		logger.Error(ctx, "accounts record holds no accounts")
		return nil, apperrors.ErrCorruptedStorage
	}

	w := &types.Wallet{
		Seed:             types.Seed(seed),
		Accounts:         accounts.Accounts,
		NodeEndpoint:     accounts.NodeEndpoint,
		ExplorerEndpoint: accounts.ExplorerEndpoint,
	}
	if _, ok := w.FindAccount(accounts.ActiveAccountID); ok {
		w.ActiveAccountID = accounts.ActiveAccountID
	}
	return w, nil
}

// Write encrypts the seed and the accounts independently, then persists both
// in one atomic write. Nothing is persisted if either encryption fails.
func (s *Storage) Write(ctx context.Context, h *Handle, w *types.Wallet) error {
	sealedSeed, err := s.seal(ctx, h, crypto.PurposeSeed, w.Seed)
	if err != nil {
		return err
	}
	sealedAccounts, err := s.sealAccounts(ctx, h, w)
	if err != nil {
		return err
	}

	return s.storeRecord(ctx, &types.EncryptedWalletRecord{
		EncryptedSeed:     sealedSeed,
		EncryptedAccounts: sealedAccounts,
	})
}

// WriteAccounts re-encrypts only the accounts record. The stored seed must
// decrypt under h and match w.Seed, so a stale handle cannot pair a new
// account list with a different seed.
func (s *Storage) WriteAccounts(ctx context.Context, h *Handle, w *types.Wallet) error {
	sealedSeed, err := s.load(ctx, KeyEncryptedSeed)
	if err != nil {
		return err
	}
	seed, err := s.open(ctx, h, crypto.PurposeSeed, sealedSeed)
	if err != nil {
		return err
	}
	same := types.Seed(seed).Equal(w.Seed)
	clear(seed)
	if !same {
		logger.Warn(ctx, "refusing to write accounts for a different seed", "reason", reasonRecordMismatch)
		return apperrors.IllegalState("stored seed does not match session wallet")
	}

	sealedAccounts, err := s.sealAccounts(ctx, h, w)
	if err != nil {
		return err
	}
	if err := storage.Set(ctx, s.kv, KeyEncryptedAccounts, sealedAccounts); err != nil {
		return fmt.Errorf("failed to persist accounts record: %w", err)
	}
	return nil
}

func (s *Storage) sealAccounts(ctx context.Context, h *Handle, w *types.Wallet) ([]byte, error) {
	raw, err := json.Marshal(accountsRecord{
		Accounts:         w.Accounts,
		ActiveAccountID:  w.ActiveAccountID,
		NodeEndpoint:     w.NodeEndpoint,
		ExplorerEndpoint: w.ExplorerEndpoint,
		SeedFingerprint:  crypto.SeedFingerprint(w.Seed),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal accounts: %w", err)
	}
	return s.seal(ctx, h, crypto.PurposeAccounts, raw)
}

// loadRecord fetches both sealed blobs. A wallet missing either one is
// reported as not initialized.
func (s *Storage) loadRecord(ctx context.Context) (*types.EncryptedWalletRecord, error) {
	sealedSeed, err := s.load(ctx, KeyEncryptedSeed)
	if err != nil {
		return nil, err
	}
	sealedAccounts, err := s.load(ctx, KeyEncryptedAccounts)
	if err != nil {
		return nil, err
	}
	return &types.EncryptedWalletRecord{EncryptedSeed: sealedSeed, EncryptedAccounts: sealedAccounts}, nil
}

func (s *Storage) storeRecord(ctx context.Context, rec *types.EncryptedWalletRecord) error {
	err := s.kv.SetMany(ctx, map[string][]byte{
		KeyEncryptedSeed:     rec.EncryptedSeed,
		KeyEncryptedAccounts: rec.EncryptedAccounts,
	})
	if err != nil {
		return fmt.Errorf("failed to persist wallet records: %w", err)
	}
	return nil
}

func (s *Storage) load(ctx context.Context, key string) ([]byte, error) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if !ok {
		return nil, apperrors.ErrNotInitialized
	}
	return v, nil
}

func (s *Storage) seal(ctx context.Context, h *Handle, purpose string, plaintext []byte) ([]byte, error) {
	ciphertext, err := h.key.Encrypt(ctx, purpose, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt %s: %w", purpose, err)
	}
	wrapped, err := s.envelope.Encrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap %s with %s envelope: %w", purpose, s.envelope.Provider(), err)
	}
	return wrapped, nil
}

func (s *Storage) open(ctx context.Context, h *Handle, purpose string, blob []byte) ([]byte, error) {
	ciphertext, err := s.envelope.Decrypt(ctx, blob)
	if err != nil {
		logger.Error(ctx, "failed to unwrap wallet record", "purpose", purpose, "provider", s.envelope.Provider(), "error", err)
		return nil, apperrors.ErrCorruptedStorage
	}

	plaintext, err := h.key.Decrypt(ctx, purpose, ciphertext)
	switch {
	case err == nil:
		return plaintext, nil
	case errors.Is(err, crypto.ErrAuthentication):
		logger.Warn(ctx, "wallet decryption failed", "purpose", purpose, "reason", reasonAuthTag)
		return nil, apperrors.ErrDecryption
	case errors.Is(err, crypto.ErrMalformedCiphertext):
		logger.Warn(ctx, "wallet decryption failed", "purpose", purpose, "reason", reasonMalformed)
		return nil, apperrors.ErrDecryption
	default:
		return nil, fmt.Errorf("failed to decrypt %s: %w", purpose, err)
	}
}
