// Package envelope wraps already password-encrypted wallet records in a second,
// device- or service-held key before they are persisted. It never sees plaintext
// secrets: the password layer in internal/crypto runs first.
package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
)

// Provider seals and opens persisted blobs
type Provider interface {
	// Encrypt wraps data
	Encrypt(ctx context.Context, data []byte) ([]byte, error)

	// Decrypt unwraps data produced by Encrypt
	Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error)

	// Provider returns the provider name (e.g., "none", "local", "aws-kms", "vault")
	Provider() string
}

// ProviderType represents supported envelope providers
type ProviderType string

const (
	// ProviderNone stores the password ciphertext as is
	ProviderNone ProviderType = "none"

	// ProviderLocal uses a device master key with AES-GCM
	ProviderLocal ProviderType = "local"

	// ProviderAWSKMS uses AWS KMS
	ProviderAWSKMS ProviderType = "aws-kms"

	// ProviderVault uses the HashiCorp Vault Transit engine
	ProviderVault ProviderType = "vault"
)

// Config contains configuration for envelope providers
type Config struct {
	Provider string

	// Local provider config
	LocalKeyHex string

	// AWS KMS config
	AWSKMSKeyID  string
	AWSKMSRegion string

	// Vault config
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// NoneProvider passes data through unchanged
type NoneProvider struct{}

// Encrypt returns a copy of data
func (NoneProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

// Decrypt returns a copy of encryptedData
func (NoneProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	return append([]byte(nil), encryptedData...), nil
}

// Provider returns the provider name
func (NoneProvider) Provider() string {
	return string(ProviderNone)
}

// LocalProvider implements Provider with a 32-byte device key and AES-GCM
type LocalProvider struct {
	aead cipher.AEAD
}

// NewLocalProvider creates a local provider from a hex-encoded 32-byte key
func NewLocalProvider(keyHex string) (*LocalProvider, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("device key is required for local envelope provider")
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("device key must be hex: %w", err)
	}
	defer clear(key)
	if len(key) != 32 {
		return nil, fmt.Errorf("device key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &LocalProvider{aead: aead}, nil
}

// Encrypt encrypts data using AES-GCM with the device key
func (p *LocalProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return p.aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt decrypts data using AES-GCM with the device key
func (p *LocalProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	nonceSize := p.aead.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// Provider returns the provider name
func (p *LocalProvider) Provider() string {
	return string(ProviderLocal)
}

// kmsAPI is the subset of the AWS KMS client used here
type kmsAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSProvider implements Provider using AWS KMS
type AWSKMSProvider struct {
	keyID  string
	client kmsAPI
}

// NewAWSKMSProvider creates a new AWS KMS provider
func NewAWSKMSProvider(keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	// Uses default credential chain: env vars, shared config, IAM role, etc.
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSProvider{
		keyID:  keyID,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// Encrypt encrypts data using AWS KMS
func (p *AWSKMSProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	output, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(p.keyID),
		Plaintext: data,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

// Decrypt decrypts data using AWS KMS
func (p *AWSKMSProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(p.keyID),
		CiphertextBlob: encryptedData,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Provider returns the provider name
func (p *AWSKMSProvider) Provider() string {
	return string(ProviderAWSKMS)
}

// VaultProvider implements Provider using HashiCorp Vault Transit engine
type VaultProvider struct {
	transitKey string
	client     *vault.Client
}

// NewVaultProvider creates a new Vault provider
func NewVaultProvider(address, token, transitKey string) (*VaultProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address
	vaultConfig.MaxRetries = 0

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultProvider{
		transitKey: transitKey,
		client:     client,
	}, nil
}

// Encrypt encrypts data using Vault Transit engine
func (p *VaultProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	// Vault Transit requires base64-encoded plaintext
	path := fmt.Sprintf("transit/encrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit encrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit encrypt returned empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault transit encrypt: ciphertext not found in response")
	}

	// vault:v1:... string
	return []byte(ciphertext), nil
}

// Decrypt decrypts data using Vault Transit engine
func (p *VaultProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/decrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": string(encryptedData),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit decrypt returned empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault transit decrypt: plaintext not found in response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: failed to decode plaintext: %w", err)
	}
	return plaintext, nil
}

// Provider returns the provider name
func (p *VaultProvider) Provider() string {
	return string(ProviderVault)
}

// NewProvider creates a Provider based on the configuration
func NewProvider(cfg *Config) (Provider, error) {
	switch ProviderType(cfg.Provider) {
	case ProviderNone, "":
		return NoneProvider{}, nil

	case ProviderLocal:
		return NewLocalProvider(cfg.LocalKeyHex)

	case ProviderAWSKMS:
		return NewAWSKMSProvider(cfg.AWSKMSKeyID, cfg.AWSKMSRegion)

	case ProviderVault:
		return NewVaultProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)

	default:
		return nil, fmt.Errorf("unsupported envelope provider: %s (supported: %s, %s, %s, %s)",
			cfg.Provider, ProviderNone, ProviderLocal, ProviderAWSKMS, ProviderVault)
	}
}

var (
	_ Provider = NoneProvider{}
	_ Provider = (*LocalProvider)(nil)
	_ Provider = (*AWSKMSProvider)(nil)
	_ Provider = (*VaultProvider)(nil)
)
