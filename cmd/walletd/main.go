package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/better-wallet/extension-wallet/internal/api"
	"github.com/better-wallet/extension-wallet/internal/app"
	"github.com/better-wallet/extension-wallet/internal/config"
	"github.com/better-wallet/extension-wallet/internal/envelope"
	"github.com/better-wallet/extension-wallet/internal/logger"
	"github.com/better-wallet/extension-wallet/internal/metrics"
	"github.com/better-wallet/extension-wallet/internal/middleware"
	"github.com/better-wallet/extension-wallet/internal/node"
	"github.com/better-wallet/extension-wallet/internal/notify"
	"github.com/better-wallet/extension-wallet/internal/relay"
	"github.com/better-wallet/extension-wallet/internal/session"
	"github.com/better-wallet/extension-wallet/internal/storage"
	"github.com/better-wallet/extension-wallet/internal/walletstore"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.LogFormat, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// UI routes are never open. Without a configured hash a fresh token is
	// written where local UI surfaces can read it.
	if cfg.UITokenHash == "" {
		token, hash, err := middleware.GenerateUIToken()
		if err != nil {
			slog.Error("failed to generate UI token", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(cfg.UITokenFile, []byte(token+"\n"), 0o600); err != nil {
			slog.Error("failed to write UI token file", "path", cfg.UITokenFile, "error", err)
			os.Exit(1)
		}
		cfg.UITokenHash = hash
		slog.Info("generated UI token", "path", cfg.UITokenFile)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Extension-local storage
	var local storage.KV
	switch cfg.LocalStore {
	case config.StorePostgres:
		store, err := storage.New(ctx, cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		applied, err := store.Migrate(ctx)
		if err != nil {
			slog.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to database", "migrations_applied", len(applied))
		local = store
	default:
		local = storage.NewMemory()
		slog.Warn("using in-memory local storage; the wallet is lost on restart")
	}

	// Session storage
	var sessionKV storage.KV
	switch cfg.SessionStore {
	case config.StoreRedis:
		rs, err := storage.NewRedisStore(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		slog.Info("connected to redis", "ttl", cfg.SessionTTL)
		sessionKV = rs
	default:
		sessionKV = storage.NewMemory()
	}

	provider, err := envelope.NewProvider(cfg.EnvelopeConfig())
	if err != nil {
		slog.Error("failed to initialize envelope provider", "error", err)
		os.Exit(1)
	}
	slog.Info("initialized envelope provider", "provider", provider.Provider())

	m := metrics.New()
	store := walletstore.New(local, provider, cfg.KDFParams())
	sessions := session.NewManager(store, sessionKV, session.Endpoints{
		Node:     cfg.NodeURL,
		Explorer: cfg.ExplorerURL,
	})
	notifications := notify.New(local, m)

	background := relay.NewBackground(sessions, relay.NewMemoryTabs(), relay.Options{
		UIBaseURL:      cfg.UIBaseURL,
		PendingTimeout: cfg.RelayPendingTimeout,
		Notifier:       notifications,
		Metrics:        m,
	})
	background.Start(ctx)

	nodeClient := node.NewClient()
	defer nodeClient.Close()

	walletService := app.NewWalletService(sessions, background, notifications, nodeClient, m)
	walletService.Start(ctx)

	// Initialize API server
	server := api.NewServer(ctx, cfg, walletService, background, m)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Relay connections are hijacked; cancelling ctx ends them
		stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}
