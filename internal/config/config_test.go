package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		BindAddress:      "127.0.0.1",
		Port:             8080,
		LogFormat:        "json",
		LogLevel:         "INFO",
		LocalStore:       StoreMemory,
		SessionStore:     StoreMemory,
		SessionTTL:       12 * time.Hour,
		EnvelopeProvider: "none",
		ScryptN:          1 << 15,
		ScryptR:          8,
		ScryptP:          1,
		UIBaseURL:        "chrome-extension://wallet/index.html",
		UITokenFile:      "walletd-ui.token",
		RateLimitEnabled: true,
		RateLimitRPS:     20,
		RateLimitBurst:   40,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid memory config",
			mutate: func(c *Config) {},
		},
		{
			name: "valid postgres and redis config",
			mutate: func(c *Config) {
				c.LocalStore = StorePostgres
				c.PostgresDSN = "postgres://localhost:5432/wallet"
				c.SessionStore = StoreRedis
				c.RedisAddr = "localhost:6379"
			},
		},
		{
			name:    "postgres without DSN",
			mutate:  func(c *Config) { c.LocalStore = StorePostgres },
			wantErr: true,
			errMsg:  "POSTGRES_DSN is required",
		},
		{
			name:    "unknown local store",
			mutate:  func(c *Config) { c.LocalStore = "sqlite" },
			wantErr: true,
			errMsg:  "LOCAL_STORE must be",
		},
		{
			name:    "redis without address",
			mutate:  func(c *Config) { c.SessionStore = StoreRedis },
			wantErr: true,
			errMsg:  "REDIS_ADDR is required",
		},
		{
			name: "redis with zero TTL",
			mutate: func(c *Config) {
				c.SessionStore = StoreRedis
				c.RedisAddr = "localhost:6379"
				c.SessionTTL = 0
			},
			wantErr: true,
			errMsg:  "SESSION_TTL must be positive",
		},
		{
			name: "valid local envelope",
			mutate: func(c *Config) {
				c.EnvelopeProvider = "local"
				c.EnvelopeLocalKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
			},
		},
		{
			name:    "local envelope without key",
			mutate:  func(c *Config) { c.EnvelopeProvider = "local" },
			wantErr: true,
			errMsg:  "ENVELOPE_LOCAL_KEY_HEX is required",
		},
		{
			name: "aws envelope without region",
			mutate: func(c *Config) {
				c.EnvelopeProvider = "aws-kms"
				c.EnvelopeAWSKeyID = "alias/wallet"
			},
			wantErr: true,
			errMsg:  "ENVELOPE_AWS_REGION is required",
		},
		{
			name: "valid vault envelope",
			mutate: func(c *Config) {
				c.EnvelopeProvider = "vault"
				c.EnvelopeVaultAddress = "http://localhost:8200"
				c.EnvelopeVaultToken = "s.token123"
				c.EnvelopeVaultTransitKey = "wallet"
			},
		},
		{
			name: "vault envelope without transit key",
			mutate: func(c *Config) {
				c.EnvelopeProvider = "vault"
				c.EnvelopeVaultAddress = "http://localhost:8200"
				c.EnvelopeVaultToken = "s.token123"
			},
			wantErr: true,
			errMsg:  "ENVELOPE_VAULT_TRANSIT_KEY is required",
		},
		{
			name:    "unknown envelope",
			mutate:  func(c *Config) { c.EnvelopeProvider = "hsm" },
			wantErr: true,
			errMsg:  "ENVELOPE_PROVIDER must be",
		},
		{
			name:    "scrypt N not a power of two",
			mutate:  func(c *Config) { c.ScryptN = 1000 },
			wantErr: true,
			errMsg:  "KDF_SCRYPT_*",
		},
		{
			name:    "bad node URL",
			mutate:  func(c *Config) { c.NodeURL = "ftp://node.example" },
			wantErr: true,
			errMsg:  "NODE_URL",
		},
		{
			name:    "UI token hash not bcrypt",
			mutate:  func(c *Config) { c.UITokenHash = "plaintext" },
			wantErr: true,
			errMsg:  "UI_TOKEN_HASH must be a bcrypt hash",
		},
		{
			name: "hash without token file",
			mutate: func(c *Config) {
				c.UITokenHash = "$2a$10$abcdefghijklmnopqrstuv"
				c.UITokenFile = ""
			},
		},
		{
			name:    "no hash and no token file",
			mutate:  func(c *Config) { c.UITokenFile = "" },
			wantErr: true,
			errMsg:  "UI_TOKEN_FILE is required",
		},
		{
			name:   "bind all interfaces",
			mutate: func(c *Config) { c.BindAddress = "0.0.0.0" },
		},
		{
			name:    "bind address is a hostname",
			mutate:  func(c *Config) { c.BindAddress = "wallet.example" },
			wantErr: true,
			errMsg:  "BIND_ADDRESS must be",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.LogLevel = "TRACE" },
			wantErr: true,
			errMsg:  "invalid LOG_LEVEL",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: true,
			errMsg:  "LOG_FORMAT must be",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Port = 0 },
			wantErr: true,
			errMsg:  "PORT must be between",
		},
		{
			name:    "rate limit without burst",
			mutate:  func(c *Config) { c.RateLimitBurst = 0 },
			wantErr: true,
			errMsg:  "RATE_LIMIT_RPS and RATE_LIMIT_BURST",
		},
		{
			name: "rate limit disabled ignores values",
			mutate: func(c *Config) {
				c.RateLimitEnabled = false
				c.RateLimitRPS = 0
			},
		},
		{
			name:    "negative pending timeout",
			mutate:  func(c *Config) { c.RelayPendingTimeout = -time.Second },
			wantErr: true,
			errMsg:  "RELAY_PENDING_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LOCAL_STORE", "memory")
	t.Setenv("SESSION_STORE", "memory")
	t.Setenv("ENVELOPE_PROVIDER", "none")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
	assert.True(t, cfg.IsLoopback())
	assert.Empty(t, cfg.UITokenHash)
	assert.Equal(t, "walletd-ui.token", cfg.UITokenFile)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 1<<15, cfg.ScryptN)
	assert.Equal(t, time.Duration(0), cfg.RelayPendingTimeout)
	assert.True(t, cfg.RateLimitEnabled)
	assert.Equal(t, 40, cfg.RateLimitBurst)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOCAL_STORE", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/wallet")
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("RELAY_PENDING_TIMEOUT", "2m")
	t.Setenv("NODE_URL", "https://rpc.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, StorePostgres, cfg.LocalStore)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 2*time.Minute, cfg.RelayPendingTimeout)
	assert.Equal(t, "https://rpc.example", cfg.NodeURL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("LOCAL_STORE", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	t.Setenv("PORT", "not-a-number")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read environment")
}

func TestConfig_Derived(t *testing.T) {
	cfg := validConfig()
	cfg.EnvelopeProvider = "vault"
	cfg.EnvelopeVaultAddress = "http://localhost:8200"

	assert.Equal(t, 1<<15, cfg.KDFParams().N)
	env := cfg.EnvelopeConfig()
	assert.Equal(t, "vault", env.Provider)
	assert.Equal(t, "http://localhost:8200", env.VaultAddress)
}

func TestConfig_ListenAddr(t *testing.T) {
	tests := []struct {
		bind     string
		want     string
		loopback bool
	}{
		{bind: "", want: "127.0.0.1:8080", loopback: true},
		{bind: "127.0.0.1", want: "127.0.0.1:8080", loopback: true},
		{bind: "::1", want: "[::1]:8080", loopback: true},
		{bind: "localhost", want: "localhost:8080", loopback: true},
		{bind: "0.0.0.0", want: "0.0.0.0:8080", loopback: false},
		{bind: "192.168.1.4", want: "192.168.1.4:8080", loopback: false},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			cfg := &Config{BindAddress: tt.bind, Port: 8080}
			assert.Equal(t, tt.want, cfg.ListenAddr())
			assert.Equal(t, tt.loopback, cfg.IsLoopback())
		})
	}
}
