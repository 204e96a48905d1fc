package envelope

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitRequest struct {
	Plaintext  string `json:"plaintext"`
	Ciphertext string `json:"ciphertext"`
}

type secretResponse struct {
	RequestID string                 `json:"request_id"`
	Data      map[string]interface{} `json:"data"`
}

// newTransitServer mimics the two Vault Transit endpoints used by VaultProvider
func newTransitServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		var req transitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var resp secretResponse
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/transit/encrypt/"):
			resp = secretResponse{RequestID: "enc", Data: map[string]interface{}{"ciphertext": "vault:v1:" + req.Plaintext}}
		case strings.HasPrefix(r.URL.Path, "/v1/transit/decrypt/"):
			resp = secretResponse{RequestID: "dec", Data: map[string]interface{}{"plaintext": strings.TrimPrefix(req.Ciphertext, "vault:v1:")}}
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestVaultProvider_RoundTrip(t *testing.T) {
	server := newTransitServer(t)
	defer server.Close()

	provider, err := NewVaultProvider(server.URL, "token", "wallet")
	require.NoError(t, err)

	ctx := context.Background()
	ciphertext, err := provider.Encrypt(ctx, []byte("sealed-accounts"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(ciphertext), "vault:v1:"))

	plaintext, err := provider.Decrypt(ctx, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sealed-accounts", string(plaintext))
}

func TestVaultProvider_Errors(t *testing.T) {
	server := newTransitServer(t)
	defer server.Close()
	ctx := context.Background()

	t.Run("bad token", func(t *testing.T) {
		provider, err := NewVaultProvider(server.URL, "wrong", "wallet")
		require.NoError(t, err)

		_, err = provider.Encrypt(ctx, []byte("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vault transit encrypt failed")

		_, err = provider.Decrypt(ctx, []byte("vault:v1:eA=="))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vault transit decrypt failed")
	})

	t.Run("undecodable plaintext", func(t *testing.T) {
		provider, err := NewVaultProvider(server.URL, "token", "wallet")
		require.NoError(t, err)

		_, err = provider.Decrypt(ctx, []byte("vault:v1:!!not-base64!!"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode plaintext")
	})
}
