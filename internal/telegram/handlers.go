package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"kassa-bot/internal/config"
	apperrors "kassa-bot/internal/errors"
	"kassa-bot/internal/limiter"
	"kassa-bot/internal/notify"
	"kassa-bot/internal/reconcile"
	"kassa-bot/internal/store"
)

// Handler processes Telegram updates
type Handler struct {
	bot      *tgbotapi.BotAPI
	store    store.Store
	orch     *reconcile.Orchestrator
	notifier *notify.Telegram
	flows    *limiter.FlowLimiter
	admins   *AdminGate
	cfg      *config.Config
	logger   *slog.Logger
}

// NewHandler creates a new update handler
func NewHandler(
	bot *tgbotapi.BotAPI,
	st store.Store,
	orch *reconcile.Orchestrator,
	notifier *notify.Telegram,
	flows *limiter.FlowLimiter,
	admins *AdminGate,
	cfg *config.Config,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		bot:      bot,
		store:    st,
		orch:     orch,
		notifier: notifier,
		flows:    flows,
		admins:   admins,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleUpdate processes a single update
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		h.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message

	if msg.IsCommand() {
		h.handleCommand(msg)
		return
	}

	if len(msg.Photo) > 0 {
		h.handleReceipt(msg)
	}
}

func (h *Handler) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		h.sendText(msg.Chat.ID,
			"Пополнение счёта букмекера.\n\n"+
				"/deposit <букмекер> <ID счёта> <сумма> — создать заявку\n"+
				"/status — статус текущей заявки\n\n"+
				"После оплаты отправьте фото чека в этот чат.")

	case "deposit":
		h.handleDeposit(msg)

	case "status":
		h.handleStatus(msg)

	default:
		h.sendText(msg.Chat.ID, "Неизвестная команда. /help — список команд.")
	}
}

func (h *Handler) handleDeposit(msg *tgbotapi.Message) {
	userID := msg.From.ID

	if !h.flows.TryAcquire(userID) {
		h.sendText(msg.Chat.ID, apperrors.ErrDepositInProgress.UserMsg)
		return
	}
	defer h.flows.Release(userID)

	pending, err := h.store.PendingDeposit(userID)
	if err != nil {
		h.logger.Error("failed to check pending deposit", "error", err, "user_id", userID)
		h.sendText(msg.Chat.ID, apperrors.GetUserMessage(err))
		return
	}
	if pending != nil {
		h.sendText(msg.Chat.ID, apperrors.ErrDepositInProgress.UserMsg)
		return
	}

	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 3 {
		h.sendText(msg.Chat.ID, "Формат: /deposit <букмекер> <ID счёта> <сумма>")
		return
	}
	bookmaker := strings.ToLower(fields[0])
	accountID := fields[1]

	if _, ok := h.cfg.Casino.Providers[bookmaker]; !ok {
		h.sendText(msg.Chat.ID, apperrors.ErrUnknownBookmaker.UserMsg)
		return
	}

	amount, err := decimal.NewFromString(strings.Replace(fields[2], ",", ".", 1))
	if err != nil || !amount.IsPositive() {
		h.sendText(msg.Chat.ID, apperrors.ErrBadAmount.UserMsg)
		return
	}
	amount = amount.Round(2)

	requisite, err := h.store.ActiveRequisite()
	if err != nil {
		h.logger.Error("failed to load active requisite", "error", err)
		h.sendText(msg.Chat.ID, apperrors.GetUserMessage(err))
		return
	}
	if requisite == nil {
		h.sendText(msg.Chat.ID, apperrors.ErrNoActiveRequisite.UserMsg)
		return
	}

	// The matcher keys on amount alone, so identical requested amounts
	// collide. Random kopecks keep whole-sum requests distinct.
	if h.cfg.AutoDeposit.RandomizeCents && amount.Equal(amount.Truncate(0)) {
		amount = amount.Add(decimal.New(int64(rand.Intn(99)+1), -2))
	}

	req := &store.Request{
		UserID:          userID,
		Bookmaker:       bookmaker,
		AccountID:       accountID,
		Amount:          amount,
		Type:            store.TypeDeposit,
		PendingDeadline: time.Now().UTC().Add(h.cfg.AutoDeposit.PaymentWindow),
	}
	if err := h.store.CreateRequest(req); err != nil {
		h.logger.Error("failed to create request", "error", err, "user_id", userID)
		h.sendText(msg.Chat.ID, apperrors.GetUserMessage(err))
		return
	}

	h.logger.Info("deposit request created",
		"request_id", req.ID,
		"user_id", userID,
		"bookmaker", bookmaker,
		"amount", amount.StringFixed(2),
	)

	h.sendText(msg.Chat.ID, fmt.Sprintf(
		"Заявка №%d создана.\n\n"+
			"Переведите ровно %s KGS на реквизит «%s» в течение %d минут.\n"+
			"После оплаты отправьте фото чека в этот чат.",
		req.ID, amount.StringFixed(2), requisite.Name,
		int(h.cfg.AutoDeposit.PaymentWindow.Minutes())))

	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", fmt.Sprintf("approve:%d", req.ID)),
		tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", fmt.Sprintf("reject:%d", req.ID)),
	))
	adminText := fmt.Sprintf("Заявка №%d: %s, счёт %s, сумма %s KGS.",
		req.ID, bookmaker, accountID, amount.StringFixed(2))
	msgID := h.notifier.SendAdmin(h.cfg.Telegram.AdminChatID, adminText, &keyboard)
	if msgID != 0 {
		if err := h.store.SetAdminMessage(req.ID, h.cfg.Telegram.AdminChatID, msgID); err != nil {
			h.logger.Error("failed to record admin message", "error", err, "request_id", req.ID)
		}
	}
}

func (h *Handler) handleStatus(msg *tgbotapi.Message) {
	pending, err := h.store.PendingDeposit(msg.From.ID)
	if err != nil {
		h.logger.Error("failed to check pending deposit", "error", err, "user_id", msg.From.ID)
		h.sendText(msg.Chat.ID, apperrors.GetUserMessage(err))
		return
	}
	if pending == nil {
		h.sendText(msg.Chat.ID, "Активных заявок нет. /deposit — создать новую.")
		return
	}

	state := "ожидает оплаты"
	if pending.ReceiptReceived {
		state = "чек получен, ждём подтверждение банка"
	}
	h.sendText(msg.Chat.ID, fmt.Sprintf(
		"Заявка №%d на %s KGS: %s.\nОплатить до %s (UTC).",
		pending.ID, pending.Amount.StringFixed(2), state,
		pending.PendingDeadline.Format("15:04")))
}

// handleReceipt attaches a payment receipt photo to the user's pending
// request and extends the payment window once, so the bank email still in
// transit has time to arrive.
func (h *Handler) handleReceipt(msg *tgbotapi.Message) {
	userID := msg.From.ID

	pending, err := h.store.PendingDeposit(userID)
	if err != nil {
		h.logger.Error("failed to check pending deposit", "error", err, "user_id", userID)
		h.sendText(msg.Chat.ID, apperrors.GetUserMessage(err))
		return
	}
	if pending == nil {
		h.sendText(msg.Chat.ID, apperrors.ErrNoPendingRequest.UserMsg)
		return
	}

	ok, err := h.store.MarkReceiptReceived(pending.ID, h.cfg.AutoDeposit.ReceiptGrace)
	if err != nil {
		h.logger.Error("failed to mark receipt", "error", err, "request_id", pending.ID)
		h.sendText(msg.Chat.ID, apperrors.GetUserMessage(err))
		return
	}
	if !ok {
		// Either the receipt was already attached or the request resolved
		// a moment ago; both are fine from the user's point of view.
		h.sendText(msg.Chat.ID, "Чек уже принят, заявка в обработке.")
		return
	}

	h.logger.Info("receipt attached", "request_id", pending.ID, "user_id", userID)
	h.sendText(msg.Chat.ID, fmt.Sprintf(
		"Чек по заявке №%d принят. Ожидаем подтверждение банка.", pending.ID))
	h.notifier.SendAdmin(h.cfg.Telegram.AdminChatID, fmt.Sprintf(
		"Заявка №%d: пользователь приложил чек.", pending.ID), nil)
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	userID, ok := h.admins.CheckCallback(q)
	if !ok {
		h.answerCallback(q.ID, apperrors.ErrUnauthorized.UserMsg)
		return
	}

	action, idStr, found := strings.Cut(q.Data, ":")
	if !found {
		h.answerCallback(q.ID, "Неизвестное действие.")
		return
	}
	requestID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.answerCallback(q.ID, "Неизвестное действие.")
		return
	}

	var out reconcile.Outcome
	switch action {
	case "approve":
		out, err = h.orch.Approve(ctx, requestID)
	case "reject":
		out, err = h.orch.Reject(requestID)
	default:
		h.answerCallback(q.ID, "Неизвестное действие.")
		return
	}
	if err != nil {
		h.logger.Error("admin action failed",
			"error", err, "action", action, "request_id", requestID, "admin_id", userID)
		h.answerCallback(q.ID, "Ошибка обработки, смотрите логи.")
		return
	}

	h.logger.Info("admin action",
		"action", action, "request_id", requestID, "admin_id", userID,
		"status", string(out.Status), "note", out.Note)
	h.answerCallback(q.ID, "Готово: "+out.Note)
}

func (h *Handler) answerCallback(callbackID, text string) {
	if _, err := h.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		h.logger.Error("failed to answer callback", "error", err)
	}
}

func (h *Handler) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.Error("failed to send message", "error", err, "chat_id", chatID)
	}
}
