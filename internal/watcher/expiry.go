package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kassa-bot/internal/notify"
	"kassa-bot/internal/reconcile"
	"kassa-bot/internal/store"
)

// Expirer demotes pending deposits whose payment window closed to
// awaiting_manual. It runs independently of the mail watcher: an email
// that never arrives must not leave a request pending forever.
type Expirer struct {
	store     store.Store
	notifier  reconcile.Notifier
	dashboard reconcile.Dashboard
	interval  time.Duration
	logger    *slog.Logger
}

// NewExpirer creates the stale-request sweeper.
func NewExpirer(
	st store.Store,
	notifier reconcile.Notifier,
	dashboard reconcile.Dashboard,
	interval time.Duration,
	logger *slog.Logger,
) *Expirer {
	return &Expirer{
		store:     st,
		notifier:  notifier,
		dashboard: dashboard,
		interval:  interval,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled.
func (e *Expirer) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Expirer) sweep() {
	expired, err := e.store.ExpireStale(time.Now().UTC())
	if err != nil {
		e.logger.Error("expiry sweep failed", "error", err)
		return
	}
	for _, req := range expired {
		e.logger.Info("request expired to manual handling",
			"request_id", req.ID, "amount", req.Amount.StringFixed(2))
		e.notifier.SendUser(req.UserID, fmt.Sprintf(
			"Время оплаты по заявке №%d истекло. Если вы уже оплатили, заявка будет обработана вручную; иначе начните заново.",
			req.ID))
		e.notifier.EditAdmin(req.AdminChatID, req.AdminMessageID, fmt.Sprintf(
			"Заявка №%d (%s, %s): окно оплаты истекло, требуется ручная проверка.",
			req.ID, req.Bookmaker, req.Amount.StringFixed(2)))
		e.dashboard.Notify(notify.StatusUpdate{
			RequestType: string(req.Type),
			RequestID:   req.ID,
			Status:      string(store.StatusAwaitingManual),
			Source:      "timeout",
		})
	}
}
