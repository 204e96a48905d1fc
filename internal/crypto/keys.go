package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/better-wallet/extension-wallet/internal/encoding"
)

// accountDomain separates account key derivation from any other use of the seed
var accountDomain = []byte("account")

// maxDerivationAttempts bounds the search for a valid secp256k1 scalar.
// A keccak output is out of range with probability ~2^-128, so one attempt
// virtually always succeeds.
const maxDerivationAttempts = 16

// DeriveAccountKey derives the signing key of the account with the given nonce.
// The same (seed, nonce) pair always yields the same key.
func DeriveAccountKey(seed []byte, nonce uint64) (*ecdsa.PrivateKey, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("seed is empty")
	}

	nonceBytes := encoding.Uint64Bytes(nonce)
	for counter := byte(0); counter < maxDerivationAttempts; counter++ {
		material := ethcrypto.Keccak256(seed, accountDomain, nonceBytes, []byte{counter})
		key, err := ethcrypto.ToECDSA(material)
		clear(material)
		if err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("failed to derive account key for nonce %d", nonce)
}

// AccountAddress derives the address from a private key
func AccountAddress(privateKey *ecdsa.PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(privateKey.PublicKey)
}

// DeriveAccountAddress is DeriveAccountKey followed by AccountAddress
func DeriveAccountAddress(seed []byte, nonce uint64) (common.Address, error) {
	key, err := DeriveAccountKey(seed, nonce)
	if err != nil {
		return common.Address{}, err
	}
	defer ZeroKey(key)
	return AccountAddress(key), nil
}

// SignChallenge signs data with the EIP-191 personal message prefix
func SignChallenge(privateKey *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(data), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign challenge: %w", err)
	}
	return sig, nil
}

// VerifyChallenge checks a SignChallenge signature against an address
func VerifyChallenge(address common.Address, data, sig []byte) bool {
	if len(sig) != ethcrypto.SignatureLength {
		return false
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(data), sig)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == address
}

// SeedFingerprint identifies a seed without revealing it. It binds the
// accounts record to the seed record it was written with.
func SeedFingerprint(seed []byte) string {
	return hexutil.Encode(ethcrypto.Keccak256(seed)[:8])
}

// ZeroKey clears the private scalar of key
func ZeroKey(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	b := key.D.Bits()
	for i := range b {
		b[i] = 0
	}
}
