package notify

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the subset of the Telegram bot API the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers user and admin notifications. Delivery is best-effort:
// a failed send or edit is logged and swallowed, never allowed to block a
// status transition (the transition already committed).
type Telegram struct {
	api    Sender
	logger *slog.Logger
}

// NewTelegram creates a notifier over a bot API.
func NewTelegram(api Sender, logger *slog.Logger) *Telegram {
	return &Telegram{api: api, logger: logger}
}

// SendUser sends a plain message to a user chat.
func (t *Telegram) SendUser(userID int64, text string) {
	if _, err := t.api.Send(tgbotapi.NewMessage(userID, text)); err != nil {
		t.logger.Error("failed to send user message", "error", err, "user_id", userID)
	}
}

// EditAdmin rewrites the admin notification message in place. Editing the
// text drops the inline keyboard, which is how action buttons are removed
// once a request resolves. Messages too old to edit fail here; that is
// fine.
func (t *Telegram) EditAdmin(chatID int64, messageID int, text string) {
	if chatID == 0 || messageID == 0 {
		return
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := t.api.Send(edit); err != nil {
		t.logger.Warn("failed to edit admin message",
			"error", err, "chat_id", chatID, "message_id", messageID)
	}
}

// SendAdmin sends a message with an optional inline keyboard to the admin
// chat and returns the message id (0 on failure).
func (t *Telegram) SendAdmin(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) int {
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		t.logger.Error("failed to send admin message", "error", err, "chat_id", chatID)
		return 0
	}
	return sent.MessageID
}
