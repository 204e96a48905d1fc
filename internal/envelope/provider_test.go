package envelope

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeviceKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNewLocalProvider(t *testing.T) {
	t.Run("creates provider with valid key", func(t *testing.T) {
		provider, err := NewLocalProvider(testDeviceKey)
		require.NoError(t, err)
		assert.Equal(t, "local", provider.Provider())
	})

	t.Run("returns error with empty key", func(t *testing.T) {
		provider, err := NewLocalProvider("")
		assert.Nil(t, provider)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device key is required")
	})

	t.Run("rejects non-hex key", func(t *testing.T) {
		_, err := NewLocalProvider("not-hex-at-all")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be hex")
	})

	t.Run("rejects short key", func(t *testing.T) {
		_, err := NewLocalProvider("0011")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be 32 bytes")
	})
}

func TestLocalProvider_EncryptDecrypt(t *testing.T) {
	provider, err := NewLocalProvider(testDeviceKey)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		plaintext := []byte("password-encrypted seed blob")

		ciphertext, err := provider.Encrypt(ctx, plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		decrypted, err := provider.Decrypt(ctx, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("large data", func(t *testing.T) {
		plaintext := make([]byte, 256*1024)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		ciphertext, err := provider.Encrypt(ctx, plaintext)
		require.NoError(t, err)
		decrypted, err := provider.Decrypt(ctx, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("random nonce per call", func(t *testing.T) {
		c1, err := provider.Encrypt(ctx, []byte("same"))
		require.NoError(t, err)
		c2, err := provider.Encrypt(ctx, []byte("same"))
		require.NoError(t, err)
		assert.NotEqual(t, c1, c2)
	})
}

func TestLocalProvider_DecryptErrors(t *testing.T) {
	provider, err := NewLocalProvider(testDeviceKey)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ciphertext too short", func(t *testing.T) {
		_, err := provider.Decrypt(ctx, []byte("short"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ciphertext too short")
	})

	t.Run("corrupted ciphertext", func(t *testing.T) {
		ciphertext, err := provider.Encrypt(ctx, []byte("data"))
		require.NoError(t, err)
		ciphertext[len(ciphertext)-1] ^= 0xFF

		_, err = provider.Decrypt(ctx, ciphertext)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decrypt")
	})

	t.Run("different device key", func(t *testing.T) {
		other, err := NewLocalProvider("ff" + testDeviceKey[2:])
		require.NoError(t, err)

		ciphertext, err := provider.Encrypt(ctx, []byte("data"))
		require.NoError(t, err)
		_, err = other.Decrypt(ctx, ciphertext)
		assert.Error(t, err)
	})
}

func TestNoneProvider(t *testing.T) {
	ctx := context.Background()
	p := NoneProvider{}
	in := []byte{1, 2, 3}

	out, err := p.Encrypt(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out[0] = 9
	assert.Equal(t, byte(1), in[0], "encrypt must not alias the input")

	back, err := p.Decrypt(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, back)
	assert.Equal(t, "none", p.Provider())
}

type fakeKMS struct {
	failEncrypt bool
	failDecrypt bool
}

func (f *fakeKMS) Encrypt(ctx context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if f.failEncrypt {
		return nil, errors.New("AccessDeniedException")
	}
	blob := append([]byte(*in.KeyId+":"), in.Plaintext...)
	return &kms.EncryptOutput{CiphertextBlob: blob}, nil
}

func (f *fakeKMS) Decrypt(ctx context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if f.failDecrypt {
		return nil, errors.New("InvalidCiphertextException")
	}
	prefix := *in.KeyId + ":"
	return &kms.DecryptOutput{Plaintext: in.CiphertextBlob[len(prefix):]}, nil
}

func TestAWSKMSProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip through client", func(t *testing.T) {
		p := &AWSKMSProvider{keyID: "alias/wallet", client: &fakeKMS{}}

		ciphertext, err := p.Encrypt(ctx, []byte("blob"))
		require.NoError(t, err)
		assert.Equal(t, "alias/wallet:blob", string(ciphertext))

		plaintext, err := p.Decrypt(ctx, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, "blob", string(plaintext))
		assert.Equal(t, "aws-kms", p.Provider())
	})

	t.Run("wraps client errors", func(t *testing.T) {
		p := &AWSKMSProvider{keyID: "alias/wallet", client: &fakeKMS{failEncrypt: true, failDecrypt: true}}

		_, err := p.Encrypt(ctx, []byte("blob"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AWS KMS encrypt failed")

		_, err = p.Decrypt(ctx, []byte("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AWS KMS decrypt failed")
	})
}

func TestNewAWSKMSProvider(t *testing.T) {
	t.Run("returns error with empty key ID", func(t *testing.T) {
		provider, err := NewAWSKMSProvider("", "us-east-1")
		assert.Nil(t, provider)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AWS KMS key ID is required")
	})

	t.Run("returns error with empty region", func(t *testing.T) {
		provider, err := NewAWSKMSProvider("alias/my-key", "")
		assert.Nil(t, provider)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AWS region is required")
	})
}

func TestNewVaultProvider(t *testing.T) {
	tests := []struct {
		name                     string
		address, token, transKey string
		wantErr                  string
	}{
		{name: "empty address", token: "t", transKey: "k", wantErr: "vault address is required"},
		{name: "empty token", address: "http://localhost:8200", transKey: "k", wantErr: "vault token is required"},
		{name: "empty transit key", address: "http://localhost:8200", token: "t", wantErr: "vault transit key name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewVaultProvider(tt.address, tt.token, tt.transKey)
			assert.Nil(t, provider)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewProvider(t *testing.T) {
	t.Run("defaults to none", func(t *testing.T) {
		provider, err := NewProvider(&Config{})
		require.NoError(t, err)
		assert.Equal(t, "none", provider.Provider())
	})

	t.Run("local", func(t *testing.T) {
		provider, err := NewProvider(&Config{Provider: "local", LocalKeyHex: testDeviceKey})
		require.NoError(t, err)
		assert.Equal(t, "local", provider.Provider())
	})

	t.Run("vault", func(t *testing.T) {
		provider, err := NewProvider(&Config{
			Provider:        "vault",
			VaultAddress:    "http://localhost:8200",
			VaultToken:      "token",
			VaultTransitKey: "wallet",
		})
		require.NoError(t, err)
		assert.Equal(t, "vault", provider.Provider())
	})

	t.Run("unsupported", func(t *testing.T) {
		provider, err := NewProvider(&Config{Provider: "hsm"})
		assert.Nil(t, provider)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported envelope provider")
	})
}
