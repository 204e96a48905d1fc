// Package encoding holds the byte codecs shared by storage, crypto and relay code.
package encoding

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AccountIDBytes is the length of an account identifier (128 bits)
const AccountIDBytes = 16

// EncodeHex encodes b as 0x-prefixed lowercase hex
func EncodeHex(b []byte) string {
	return hexutil.Encode(b)
}

// DecodeHex decodes hex with or without the 0x prefix
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// RandomBytes returns n bytes from crypto/rand
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// RandomID returns n random bytes as plain lowercase hex (2n characters)
func RandomID(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewAccountID allocates a fresh 128-bit account identifier
func NewAccountID() (string, error) {
	return RandomID(AccountIDBytes)
}

// Uint64Bytes encodes v as 8 big-endian bytes
func Uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// EncodeBase64URL encodes b as unpadded URL-safe base64
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64URL decodes unpadded URL-safe base64
func DecodeBase64URL(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url: %w", err)
	}
	return b, nil
}
