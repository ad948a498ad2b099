package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"nexus_bot/internal/bot"
	"nexus_bot/internal/config"
	"nexus_bot/internal/delivery"
	"nexus_bot/internal/nexus"
	"nexus_bot/internal/poller"
	"nexus_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	upstream := nexus.New(http.DefaultClient, cfg.NexusAPIKey)

	// The poller is constructed before the Discord session so the
	// command layer can hand forced-cycle requests to it; delivery
	// needs the session, so the pipeline is wired in after.
	p := poller.New(store, upstream, nil, cfg.PollInterval, log)

	b, err := bot.New(cfg.DiscordBotToken, store, upstream, p, log)
	if err != nil {
		log.Error("create discord bot", "error", err)
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	p.SetPipeline(delivery.New(b.Session(), store, log))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting", "poll_interval", cfg.PollInterval)
	p.Run(ctx)

	log.Info("stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
