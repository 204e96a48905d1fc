package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("storage: store is closed")

// KV is the byte-oriented key/value contract every backend implements.
// Extension-local storage and session storage are both KVs.
type KV interface {
	// Get returns the value under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// SetMany writes all entries atomically: either every key is updated or none is.
	SetMany(ctx context.Context, entries map[string][]byte) error

	// Delete removes the keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Set writes a single entry
func Set(ctx context.Context, kv KV, key string, value []byte) error {
	return kv.SetMany(ctx, map[string][]byte{key: value})
}

// Has reports whether key is present
func Has(ctx context.Context, kv KV, key string) (bool, error) {
	_, ok, err := kv.Get(ctx, key)
	return ok, err
}
