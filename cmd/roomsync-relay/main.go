package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roomsync-dev/roomsync/internal/auth"
	"github.com/roomsync-dev/roomsync/internal/config"
	"github.com/roomsync-dev/roomsync/internal/database"
	"github.com/roomsync-dev/roomsync/internal/metrics"
	"github.com/roomsync-dev/roomsync/internal/relay"
	"github.com/roomsync-dev/roomsync/internal/store"
	"github.com/roomsync-dev/roomsync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"listen", cfg.Server.Port,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Resolve the client token
	token := cfg.Auth.Token
	if cfg.Auth.TokenFile != "" {
		token, err = auth.LoadToken(cfg.Auth.TokenFile)
		if err != nil {
			logger.Error("failed to load auth token", "error", err)
			os.Exit(1)
		}
	}
	verifier := auth.NewVerifier(token)
	if !verifier.Enabled() {
		logger.Warn("no auth token configured, accepting all clients")
	}

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgres(pool)
	if err := st.Bootstrap(ctx); err != nil {
		logger.Error("failed to bootstrap schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// Persistence pipeline: queue feeds the batch writer.
	queue := store.NewUpdateQueue(cfg.Writer.BufferSize)
	writer := store.NewWriter(cfg.Writer, queue, st, logger)
	if err := writer.Start(ctx); err != nil {
		logger.Error("failed to start writer", "error", err)
		os.Exit(1)
	}

	// Cross-instance bridge, only when Redis is configured.
	var bridge *relay.Bridge
	var pub relay.Publisher
	if cfg.Redis.Addr != "" {
		bridge = relay.NewBridge(cfg.Redis, cfg.Instance.ID, logger)
		pub = bridge
	}

	hub := relay.NewHub(cfg.Rooms, st, queue, pub, logger)
	if err := hub.Start(ctx); err != nil {
		logger.Error("failed to start hub", "error", err)
		os.Exit(1)
	}

	if bridge != nil {
		if err := bridge.Start(ctx, hub.Deliver); err != nil {
			logger.Error("failed to start bridge", "error", err)
			os.Exit(1)
		}
	}

	srv := relay.NewServer(cfg.Server, verifier, hub, logger)
	srv.Start()

	metricsSrv := metrics.NewServer(cfg.Metrics, logger)
	metricsSrv.Start()

	compactor := store.NewCompactor(cfg.Compactor, st, logger)
	if err := compactor.Start(ctx); err != nil {
		logger.Error("failed to start compactor", "error", err)
		os.Exit(1)
	}

	logger.Info("relay running",
		"instance_id", cfg.Instance.ID,
		"bridge", bridge != nil,
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop the listener first, then close clients, then drain the
	// pipeline so the final flush sees every accepted update.
	srv.Stop(shutdownCtx)
	hub.Stop(shutdownCtx)
	if bridge != nil {
		bridge.Stop(shutdownCtx)
	}
	queue.Close()
	writer.Stop(shutdownCtx)
	compactor.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	logger.Info("relay stopped")
}
