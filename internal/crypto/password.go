package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

// Ciphertext layout: version(1) | salt(32) | nonce(12) | AES-GCM sealed payload
const (
	ciphertextVersion = 0x01
	saltLen           = 32
	nonceLen          = 12
	keyLen            = 32
	headerLen         = 1 + saltLen + nonceLen
)

// Purposes bind a ciphertext to the record it was produced for
const (
	PurposeSeed     = "wallet/seed"
	PurposeAccounts = "wallet/accounts"
)

var (
	// ErrAuthentication is returned when the GCM tag does not verify:
	// wrong password or a modified ciphertext.
	ErrAuthentication = errors.New("ciphertext authentication failed")

	// ErrMalformedCiphertext is returned when a blob cannot be parsed at all
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// KDFParams are the scrypt cost parameters
type KDFParams struct {
	N int
	R int
	P int
}

// DefaultKDFParams costs roughly 32MB of memory per derivation.
var DefaultKDFParams = KDFParams{N: 1 << 15, R: 8, P: 1}

// TestKDFParams keeps tests fast. Never use outside tests.
var TestKDFParams = KDFParams{N: 1 << 4, R: 8, P: 1}

// Validate checks the parameters are acceptable to scrypt
func (p KDFParams) Validate() error {
	if p.N <= 1 || p.N&(p.N-1) != 0 {
		return fmt.Errorf("scrypt N must be a power of two greater than 1, got %d", p.N)
	}
	if p.R <= 0 || p.P <= 0 {
		return fmt.Errorf("scrypt r and p must be positive")
	}
	return nil
}

// PasswordKey is a symmetric key derived from a password with scrypt.
// The master key never encrypts directly: each purpose gets an HKDF subkey.
// A PasswordKey can decrypt blobs written under a different salt by re-deriving
// from the password; derived masters are cached per salt.
type PasswordKey struct {
	mu       sync.Mutex
	password []byte
	params   KDFParams
	salt     []byte
	masters  map[string][]byte
}

// NewPasswordKey derives a key from password under a fresh random salt
func NewPasswordKey(ctx context.Context, password string, params KDFParams) (*PasswordKey, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	k := &PasswordKey{
		password: []byte(password),
		params:   params,
		salt:     salt,
		masters:  make(map[string][]byte),
	}
	_ = LockMemory(k.password)

	if _, err := k.masterFor(ctx, salt); err != nil {
		k.Destroy()
		return nil, err
	}
	return k, nil
}

// masterFor returns the scrypt master key for salt, deriving it on first use
func (k *PasswordKey) masterFor(ctx context.Context, salt []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.password == nil {
		return nil, errors.New("password key has been destroyed")
	}
	if m, ok := k.masters[string(salt)]; ok {
		return m, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	master, err := scrypt.Key(k.password, salt, k.params.N, k.params.R, k.params.P, keyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	_ = LockMemory(master)
	k.masters[string(salt)] = master
	return master, nil
}

// subkeyAEAD builds the AES-GCM instance for one purpose
func subkeyAEAD(master []byte, purpose string) (cipher.AEAD, error) {
	subkey := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), subkey); err != nil {
		return nil, fmt.Errorf("failed to derive subkey: %w", err)
	}
	defer clear(subkey)

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// Encrypt seals plaintext for purpose under this key's own salt
func (k *PasswordKey) Encrypt(ctx context.Context, purpose string, plaintext []byte) ([]byte, error) {
	master, err := k.masterFor(ctx, k.salt)
	if err != nil {
		return nil, err
	}
	aesGCM, err := subkeyAEAD(master, purpose)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, headerLen+len(plaintext)+aesGCM.Overhead())
	out = append(out, ciphertextVersion)
	out = append(out, k.salt...)
	out = append(out, nonce...)
	return aesGCM.Seal(out, nonce, plaintext, []byte(purpose)), nil
}

// Decrypt opens a blob produced by Encrypt with the same password and purpose
func (k *PasswordKey) Decrypt(ctx context.Context, purpose string, blob []byte) ([]byte, error) {
	if len(blob) < headerLen || blob[0] != ciphertextVersion {
		return nil, ErrMalformedCiphertext
	}
	salt := blob[1 : 1+saltLen]
	nonce := blob[1+saltLen : headerLen]

	master, err := k.masterFor(ctx, salt)
	if err != nil {
		return nil, err
	}
	aesGCM, err := subkeyAEAD(master, purpose)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesGCM.Open(nil, nonce, blob[headerLen:], []byte(purpose))
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Salt returns a copy of the salt new ciphertexts are written under
func (k *PasswordKey) Salt() []byte {
	return append([]byte(nil), k.salt...)
}

// Destroy wipes the password and every cached master key
func (k *PasswordKey) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for s, m := range k.masters {
		_ = UnlockMemory(m)
		clear(m)
		delete(k.masters, s)
	}
	if k.password != nil {
		_ = UnlockMemory(k.password)
		clear(k.password)
		k.password = nil
	}
}
