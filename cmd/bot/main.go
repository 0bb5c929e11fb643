package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kassa-bot/internal/casino"
	"kassa-bot/internal/config"
	"kassa-bot/internal/limiter"
	"kassa-bot/internal/notify"
	"kassa-bot/internal/reconcile"
	"kassa-bot/internal/store"
	"kassa-bot/internal/telegram"
	"kassa-bot/internal/watcher"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	var logLevel slog.Level
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if cfg.Logging.JSONFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Create root context with cancellation
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// WaitGroup for tracking active goroutines
	var wg sync.WaitGroup

	// Open the request store
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Telegram API, shared by the bot loop and the notifier
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error("failed to create telegram api", "error", err)
		os.Exit(1)
	}

	notifier := notify.NewTelegram(api, logger)
	dashboard := notify.NewWebhook(cfg.Webhook.BaseURL, cfg.Webhook.Timeout, logger)

	// Casino deposit capability, one client per provider
	providers := make(map[string]casino.ProviderConfig, len(cfg.Casino.Providers))
	for name, p := range cfg.Casino.Providers {
		providers[name] = casino.ProviderConfig{
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Timeout: p.Timeout,
		}
	}
	registry := casino.NewRegistry(providers, logger)

	// Confirmation orchestrator, shared by the watcher and admin actions
	orch := reconcile.NewOrchestrator(st, registry, notifier, dashboard,
		cfg.AutoDeposit.Window, logger)

	flows := limiter.NewFlowLimiter()
	bot := telegram.NewBot(api, cfg, st, orch, notifier, flows, logger)

	// Start bot in goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bot.Run(rootCtx); err != nil && err != context.Canceled {
			logger.Error("bot error", "error", err)
		}
	}()

	// Start mail watcher
	w := watcher.New(watcher.Config{
		Enabled:   cfg.AutoDeposit.Enabled,
		IMAPHost:  cfg.AutoDeposit.IMAPHost,
		Folder:    cfg.AutoDeposit.Folder,
		Interval:  cfg.AutoDeposit.Interval,
		UseIdle:   cfg.AutoDeposit.Idle,
		Keepalive: cfg.AutoDeposit.Keepalive,
	}, st, orch, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Run(rootCtx); err != nil && err != context.Canceled {
			logger.Error("watcher error", "error", err)
		}
	}()

	// Start stale-request expiry sweeper
	expirer := watcher.NewExpirer(st, notifier, dashboard, time.Minute, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := expirer.Run(rootCtx); err != nil && err != context.Canceled {
			logger.Error("expirer error", "error", err)
		}
	}()

	logger.Info("bot started",
		"autodeposit_enabled", cfg.AutoDeposit.Enabled,
		"idle", cfg.AutoDeposit.Idle,
		"providers", len(cfg.Casino.Providers),
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig)

	// Cancel root context to signal all goroutines
	rootCancel()

	// Wait for graceful shutdown with timeout
	shutdownTimeout := 30 * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}
}
