package telegram

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AdminGate decides who may act on approve/reject buttons. Deposit
// commands themselves are open to everyone; only the resolution actions
// are gated.
type AdminGate struct {
	admins map[int64]struct{}
	logger *slog.Logger
}

// NewAdminGate creates a gate from a static admin user list.
func NewAdminGate(userIDs []int64, logger *slog.Logger) *AdminGate {
	admins := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		admins[id] = struct{}{}
	}
	return &AdminGate{admins: admins, logger: logger}
}

// IsAdmin checks if a user may perform admin actions.
func (g *AdminGate) IsAdmin(userID int64) bool {
	_, ok := g.admins[userID]
	return ok
}

// CheckCallback validates a callback query's sender and returns the user id.
func (g *AdminGate) CheckCallback(q *tgbotapi.CallbackQuery) (int64, bool) {
	if q.From == nil {
		return 0, false
	}
	if !g.IsAdmin(q.From.ID) {
		g.logger.Warn("unauthorized admin action attempt",
			"user_id", q.From.ID,
			"username", q.From.UserName,
			"data", q.Data,
		)
		return q.From.ID, false
	}
	return q.From.ID, true
}
