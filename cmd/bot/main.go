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
	"time"

	"places_bot/internal/bot"
	"places_bot/internal/checker"
	"places_bot/internal/config"
	"places_bot/internal/fetcher"
	"places_bot/internal/notifier"
	"places_bot/internal/pipeline"
	"places_bot/internal/places"
	"places_bot/internal/scheduler"
	"places_bot/internal/storage"
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

	directory := places.New(cfg.PlacesAPIURL, &http.Client{Timeout: 30 * time.Second})

	b, err := bot.New(cfg.TelegramBotToken, store, directory, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	chk := checker.New(store, fetcher.New(directory), pipeline.New(store), notifier.New(b, cfg.SendRate), log)
	b.SetChecker(chk)

	sched := scheduler.New(store, chk, cfg.CheckInterval, cfg.Workers, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Settle marks for records that appeared while the bot was down, so the
	// first scheduled tick does not flood returning chats.
	if err := chk.RunStartupPass(ctx); err != nil {
		log.Warn("startup pass", "error", err)
	}

	log.Info("starting bot")

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
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
