// roomsync-compact runs one compaction pass over the update log and
// exits. The relay compacts on its own schedule; this tool forces a
// pass, e.g. after lowering the threshold.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roomsync-dev/roomsync/internal/config"
	"github.com/roomsync-dev/roomsync/internal/database"
	"github.com/roomsync-dev/roomsync/internal/store"
	"github.com/roomsync-dev/roomsync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	threshold := flag.Int("threshold", 0, "override compactor.threshold")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting compaction pass", "version", version.Version, "config", *configPath)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *threshold > 0 {
		cfg.Compactor.Threshold = *threshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

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

	compactor := store.NewCompactor(cfg.Compactor, st, logger)
	n, err := compactor.RunOnce(ctx)
	if err != nil {
		logger.Error("compaction failed", "error", err)
		os.Exit(1)
	}

	stats := compactor.Stats()
	logger.Info("compaction complete",
		"rooms", n,
		"errors", stats.Errors,
		"threshold", cfg.Compactor.Threshold,
	)
	if stats.Errors > 0 {
		os.Exit(1)
	}
}
