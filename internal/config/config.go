package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/better-wallet/extension-wallet/internal/crypto"
	"github.com/better-wallet/extension-wallet/internal/envelope"
	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/validation"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds daemon configuration, read from the environment
type Config struct {
	// Server. The UI API holds the unlocked wallet, so it stays on loopback
	// unless told otherwise.
	BindAddress string `envconfig:"BIND_ADDRESS" default:"127.0.0.1"`
	Port        int    `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`

	// Extension-local storage (encrypted wallet, notifications)
	LocalStore  string `envconfig:"LOCAL_STORE" default:"memory"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	// Session storage (decrypted wallet, pending request)
	SessionStore  string        `envconfig:"SESSION_STORE" default:"memory"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	// At-rest envelope
	EnvelopeProvider        string `envconfig:"ENVELOPE_PROVIDER" default:"none"`
	EnvelopeLocalKeyHex     string `envconfig:"ENVELOPE_LOCAL_KEY_HEX"`
	EnvelopeAWSKeyID        string `envconfig:"ENVELOPE_AWS_KEY_ID"`
	EnvelopeAWSRegion       string `envconfig:"ENVELOPE_AWS_REGION"`
	EnvelopeVaultAddress    string `envconfig:"ENVELOPE_VAULT_ADDRESS"`
	EnvelopeVaultToken      string `envconfig:"ENVELOPE_VAULT_TOKEN"`
	EnvelopeVaultTransitKey string `envconfig:"ENVELOPE_VAULT_TRANSIT_KEY"`

	// Password KDF
	ScryptN int `envconfig:"KDF_SCRYPT_N" default:"32768"`
	ScryptR int `envconfig:"KDF_SCRYPT_R" default:"8"`
	ScryptP int `envconfig:"KDF_SCRYPT_P" default:"1"`

	// Network
	NodeURL     string `envconfig:"NODE_URL"`
	ExplorerURL string `envconfig:"EXPLORER_URL"`

	// UI and relay
	UIBaseURL           string        `envconfig:"UI_BASE_URL" default:"chrome-extension://wallet/index.html"`
	UITokenHash         string        `envconfig:"UI_TOKEN_HASH"`
	UITokenFile         string        `envconfig:"UI_TOKEN_FILE" default:"walletd-ui.token"`
	RelayPendingTimeout time.Duration `envconfig:"RELAY_PENDING_TIMEOUT" default:"0s"`

	// Rate limiting
	RateLimitEnabled bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRPS     float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst   int     `envconfig:"RATE_LIMIT_BURST" default:"40"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BindAddress != "localhost" && net.ParseIP(c.BindAddress) == nil {
		return fmt.Errorf("BIND_ADDRESS must be an IP address or 'localhost', got: %q", c.BindAddress)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'text', got: %s", c.LogFormat)
	}

	switch c.LocalStore {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when LOCAL_STORE is 'postgres'")
		}
	default:
		return fmt.Errorf("LOCAL_STORE must be 'memory' or 'postgres', got: %s", c.LocalStore)
	}

	switch c.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE is 'redis'")
		}
		if c.SessionTTL <= 0 {
			return fmt.Errorf("SESSION_TTL must be positive, got: %s", c.SessionTTL)
		}
	default:
		return fmt.Errorf("SESSION_STORE must be 'memory' or 'redis', got: %s", c.SessionStore)
	}

	if err := c.validateEnvelope(); err != nil {
		return err
	}

	if err := c.KDFParams().Validate(); err != nil {
		return fmt.Errorf("KDF_SCRYPT_*: %w", err)
	}

	if err := validation.ValidateEndpoint(c.NodeURL); err != nil {
		return fmt.Errorf("NODE_URL: %w", err)
	}
	if err := validation.ValidateEndpoint(c.ExplorerURL); err != nil {
		return fmt.Errorf("EXPLORER_URL: %w", err)
	}
	if c.UIBaseURL == "" {
		return fmt.Errorf("UI_BASE_URL is required")
	}
	if c.UITokenHash != "" && !strings.HasPrefix(c.UITokenHash, "$2") {
		return fmt.Errorf("UI_TOKEN_HASH must be a bcrypt hash")
	}
	if c.UITokenHash == "" && c.UITokenFile == "" {
		return fmt.Errorf("UI_TOKEN_FILE is required when UI_TOKEN_HASH is not set")
	}
	if c.RelayPendingTimeout < 0 {
		return fmt.Errorf("RELAY_PENDING_TIMEOUT must not be negative")
	}

	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}

	return nil
}

func (c *Config) validateEnvelope() error {
	switch envelope.ProviderType(c.EnvelopeProvider) {
	case envelope.ProviderNone, "":
	case envelope.ProviderLocal:
		if c.EnvelopeLocalKeyHex == "" {
			return fmt.Errorf("ENVELOPE_LOCAL_KEY_HEX is required when ENVELOPE_PROVIDER is 'local'")
		}
	case envelope.ProviderAWSKMS:
		if c.EnvelopeAWSKeyID == "" {
			return fmt.Errorf("ENVELOPE_AWS_KEY_ID is required when ENVELOPE_PROVIDER is 'aws-kms'")
		}
		if c.EnvelopeAWSRegion == "" {
			return fmt.Errorf("ENVELOPE_AWS_REGION is required when ENVELOPE_PROVIDER is 'aws-kms'")
		}
	case envelope.ProviderVault:
		if c.EnvelopeVaultAddress == "" {
			return fmt.Errorf("ENVELOPE_VAULT_ADDRESS is required when ENVELOPE_PROVIDER is 'vault'")
		}
		if c.EnvelopeVaultToken == "" {
			return fmt.Errorf("ENVELOPE_VAULT_TOKEN is required when ENVELOPE_PROVIDER is 'vault'")
		}
		if c.EnvelopeVaultTransitKey == "" {
			return fmt.Errorf("ENVELOPE_VAULT_TRANSIT_KEY is required when ENVELOPE_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("ENVELOPE_PROVIDER must be 'none', 'local', 'aws-kms' or 'vault', got: %s", c.EnvelopeProvider)
	}
	return nil
}

// ListenAddr returns the host:port the server binds to
func (c *Config) ListenAddr() string {
	host := c.BindAddress
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprint(c.Port))
}

// IsLoopback reports whether the server only listens on the local machine
func (c *Config) IsLoopback() bool {
	if c.BindAddress == "" || c.BindAddress == "localhost" {
		return true
	}
	ip := net.ParseIP(c.BindAddress)
	return ip != nil && ip.IsLoopback()
}

// KDFParams returns the configured scrypt parameters
func (c *Config) KDFParams() crypto.KDFParams {
	return crypto.KDFParams{N: c.ScryptN, R: c.ScryptR, P: c.ScryptP}
}

// EnvelopeConfig returns the envelope provider configuration
func (c *Config) EnvelopeConfig() *envelope.Config {
	return &envelope.Config{
		Provider:        c.EnvelopeProvider,
		LocalKeyHex:     c.EnvelopeLocalKeyHex,
		AWSKMSKeyID:     c.EnvelopeAWSKeyID,
		AWSKMSRegion:    c.EnvelopeAWSRegion,
		VaultAddress:    c.EnvelopeVaultAddress,
		VaultToken:      c.EnvelopeVaultToken,
		VaultTransitKey: c.EnvelopeVaultTransitKey,
	}
}
