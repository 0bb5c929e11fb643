package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kassa-bot/internal/config"
	"kassa-bot/internal/limiter"
	"kassa-bot/internal/notify"
	"kassa-bot/internal/reconcile"
	"kassa-bot/internal/store"
)

// Bot represents the Telegram bot
type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
	cfg     config.TelegramConfig
	logger  *slog.Logger

	// Track active update processing
	activeRequests sync.WaitGroup
}

// NewBot creates a new Telegram bot over an already-authenticated API.
// The API is shared with the notifier, which the orchestrator and the
// watcher use independently of the update loop.
func NewBot(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	st store.Store,
	orch *reconcile.Orchestrator,
	notifier *notify.Telegram,
	flows *limiter.FlowLimiter,
	logger *slog.Logger,
) *Bot {
	admins := NewAdminGate(cfg.Telegram.AdminUsers, logger)
	handler := NewHandler(api, st, orch, notifier, flows, admins, cfg, logger)

	return &Bot{
		api:     api,
		handler: handler,
		cfg:     cfg.Telegram,
		logger:  logger,
	}
}

// Run starts the bot and blocks until context is cancelled
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollingTimeout

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopping bot, waiting for active requests")

			// Stop receiving updates
			b.api.StopReceivingUpdates()

			// Wait for active requests with timeout
			done := make(chan struct{})
			go func() {
				b.activeRequests.Wait()
				close(done)
			}()

			select {
			case <-done:
				b.logger.Info("all active requests completed")
			case <-time.After(25 * time.Second):
				b.logger.Warn("some requests may not have completed")
			}

			return ctx.Err()

		case update, ok := <-updates:
			if !ok {
				return nil
			}

			// Process update in goroutine
			b.activeRequests.Add(1)
			go func(upd tgbotapi.Update) {
				defer b.activeRequests.Done()

				// Create request context with timeout
				reqCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
				defer cancel()

				b.handler.HandleUpdate(reqCtx, upd)
			}(update)
		}
	}
}
