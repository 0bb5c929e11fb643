package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kassa-bot/internal/casino"
	"kassa-bot/internal/notify"
	"kassa-bot/internal/parser"
	"kassa-bot/internal/store"
)

// Notifier delivers best-effort user and admin chat notifications.
type Notifier interface {
	SendUser(userID int64, text string)
	EditAdmin(chatID int64, messageID int, text string)
}

// Dashboard mirrors status changes to the admin site.
type Dashboard interface {
	Notify(update notify.StatusUpdate)
}

// Casinos resolves the deposit capability per bookmaker.
type Casinos interface {
	For(bookmaker string) (casino.Client, error)
}

// Outcome summarizes what one confirmation attempt did, for the audit log
// and the watcher's diagnostics.
type Outcome struct {
	Matched   bool
	RequestID int64
	Status    store.Status
	Note      string
}

// Orchestrator drives a matched payment through the request state machine.
// It shares the store with the admin approval and receipt handlers; every
// transition is a guarded update, and losing a race is a silent no-op.
type Orchestrator struct {
	store     store.Store
	casinos   Casinos
	notifier  Notifier
	dashboard Dashboard
	window    time.Duration
	logger    *slog.Logger
}

// NewOrchestrator wires the confirmation pipeline.
func NewOrchestrator(
	st store.Store,
	casinos Casinos,
	notifier Notifier,
	dashboard Dashboard,
	window time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     st,
		casinos:   casinos,
		notifier:  notifier,
		dashboard: dashboard,
		window:    window,
		logger:    logger,
	}
}

// Confirm processes one parsed bank notification: audit, match, transition,
// credit, notify. A match miss is an expected outcome, not an error; the
// payment stays visible in the incoming_payments table for manual
// reconciliation.
func (o *Orchestrator) Confirm(ctx context.Context, bank string, p parser.Payment, rawText string) (Outcome, error) {
	audit := &store.IncomingPayment{
		Amount:      p.Amount,
		Bank:        bank,
		PaymentDate: p.Date,
		Text:        rawText,
	}
	if err := o.store.RecordIncomingPayment(audit); err != nil {
		return Outcome{}, fmt.Errorf("record incoming payment: %w", err)
	}

	req, err := o.store.FindMatch(p.Amount, o.window)
	if err != nil {
		return Outcome{}, fmt.Errorf("find match: %w", err)
	}
	if req == nil {
		o.logger.Info("payment did not match any pending request",
			"bank", bank, "amount", p.Amount.StringFixed(2))
		if err := o.store.AppendLog(bank, p.Amount, false, "no pending request matched"); err != nil {
			o.logger.Error("failed to append audit log", "error", err)
		}
		return Outcome{Matched: false, Note: "no match"}, nil
	}

	claimed, err := o.store.MarkBankReceived(req.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("mark bank received: %w", err)
	}
	if !claimed {
		// Another actor resolved the request between the match and the
		// claim. Nothing else to do.
		o.logger.Info("request already processed", "request_id", req.ID)
		o.appendLog(bank, p, true, "request already processed")
		return Outcome{Matched: true, RequestID: req.ID, Note: "already processed"}, nil
	}

	// Pick up a receipt that may have arrived after the match read.
	if fresh, err := o.store.GetRequest(req.ID); err == nil && fresh != nil {
		req = fresh
	}

	outcome, err := o.credit(ctx, req, true)
	if err != nil {
		return outcome, err
	}
	if outcome.Status == store.StatusAutoSuccess || outcome.Status == store.StatusCompleted {
		if err := o.store.MarkPaymentProcessed(audit.ID); err != nil {
			o.logger.Error("failed to mark payment processed", "error", err, "payment_id", audit.ID)
		}
	}
	o.appendLog(bank, p, true, outcome.Note)
	return outcome, nil
}

// Approve is the manual admin path. It competes with Confirm on the same
// guarded transitions; whichever lands first wins and the loser no-ops.
func (o *Orchestrator) Approve(ctx context.Context, requestID int64) (Outcome, error) {
	req, err := o.store.GetRequest(requestID)
	if err != nil {
		return Outcome{}, fmt.Errorf("get request: %w", err)
	}
	if req == nil {
		return Outcome{}, fmt.Errorf("request %d not found", requestID)
	}
	if req.Status != store.StatusPending {
		return Outcome{Matched: true, RequestID: req.ID, Status: req.Status, Note: "already processed"}, nil
	}
	return o.credit(ctx, req, false)
}

// Reject is the manual admin rejection path.
func (o *Orchestrator) Reject(requestID int64) (Outcome, error) {
	req, err := o.store.GetRequest(requestID)
	if err != nil {
		return Outcome{}, fmt.Errorf("get request: %w", err)
	}
	if req == nil {
		return Outcome{}, fmt.Errorf("request %d not found", requestID)
	}

	ok, err := o.store.Reject(req.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reject request: %w", err)
	}
	if !ok {
		return Outcome{Matched: true, RequestID: req.ID, Status: req.Status, Note: "already processed"}, nil
	}

	o.notifier.SendUser(req.UserID, fmt.Sprintf(
		"Ваша заявка №%d на сумму %s отклонена.", req.ID, req.Amount.StringFixed(2)))
	o.notifier.EditAdmin(req.AdminChatID, req.AdminMessageID, fmt.Sprintf(
		"Заявка №%d: отклонена вручную.", req.ID))
	o.dashboard.Notify(notify.StatusUpdate{
		RequestType: string(req.Type),
		RequestID:   req.ID,
		Status:      string(store.StatusRejected),
		Source:      "admin",
	})
	return Outcome{Matched: true, RequestID: req.ID, Status: store.StatusRejected, Note: "rejected"}, nil
}

// credit invokes the casino deposit capability and lands the final status.
// The call is at-least-once with no idempotency key; the only guard against
// double-crediting is the status precondition on the final transition.
func (o *Orchestrator) credit(ctx context.Context, req *store.Request, auto bool) (Outcome, error) {
	source := "admin"
	if auto {
		source = "autodeposit"
	}

	client, err := o.casinos.For(req.Bookmaker)
	if err != nil {
		o.logger.Error("no deposit provider", "error", err, "request_id", req.ID)
		return o.failCredit(req, source, err.Error())
	}

	res, err := client.Deposit(ctx, req.AccountID, req.Amount)
	if err != nil {
		o.logger.Error("casino deposit call failed",
			"error", err, "request_id", req.ID, "bookmaker", req.Bookmaker)
		return o.failCredit(req, source, err.Error())
	}
	if !res.Success {
		o.logger.Warn("casino refused deposit",
			"request_id", req.ID, "bookmaker", req.Bookmaker, "message", res.Message)
		return o.failCredit(req, source, res.Message)
	}

	var (
		ok     bool
		status store.Status
	)
	if auto {
		ok, err = o.store.CompleteAuto(req.ID, req.ReceiptReceived)
		status = store.StatusAutoSuccess
		if req.ReceiptReceived {
			status = store.StatusCompleted
		}
	} else {
		ok, err = o.store.CompleteManual(req.ID)
		status = store.StatusCompleted
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("complete request: %w", err)
	}
	if !ok {
		// The remote credit already happened; the concurrent winner owns
		// the request now. Known limitation of the keyless deposit call.
		o.logger.Warn("completion lost the race after credit", "request_id", req.ID)
		return Outcome{Matched: true, RequestID: req.ID, Note: "lost race after credit"}, nil
	}

	elapsed := time.Since(req.CreatedAt).Round(time.Second)
	o.notifier.SendUser(req.UserID, fmt.Sprintf(
		"Заявка №%d выполнена: %s зачислено на счёт %s за %s.",
		req.ID, req.Amount.StringFixed(2), req.AccountID, elapsed))
	o.notifier.EditAdmin(req.AdminChatID, req.AdminMessageID, fmt.Sprintf(
		"Заявка №%d (%s, %s): выполнена (%s).",
		req.ID, req.Bookmaker, req.Amount.StringFixed(2), source))
	o.dashboard.Notify(notify.StatusUpdate{
		RequestType: string(req.Type),
		RequestID:   req.ID,
		Status:      string(status),
		Source:      source,
	})
	return Outcome{Matched: true, RequestID: req.ID, Status: status, Note: "credited"}, nil
}

// failCredit lands profile-5: bank money confirmed received, casino credit
// failed. Requires operator intervention; the user gets no success message.
func (o *Orchestrator) failCredit(req *store.Request, source, reason string) (Outcome, error) {
	ok, err := o.store.FailCredit(req.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fail credit: %w", err)
	}
	if !ok {
		return Outcome{Matched: true, RequestID: req.ID, Note: "already processed"}, nil
	}

	o.notifier.EditAdmin(req.AdminChatID, req.AdminMessageID, fmt.Sprintf(
		"Заявка №%d (%s, %s): деньги получены, зачисление в казино не прошло — требуется ручная обработка. %s",
		req.ID, req.Bookmaker, req.Amount.StringFixed(2), reason))
	o.dashboard.Notify(notify.StatusUpdate{
		RequestType:  string(req.Type),
		RequestID:    req.ID,
		Status:       string(store.StatusCreditFailed),
		StatusDetail: "api_error",
		Source:       source,
	})
	return Outcome{
		Matched:   true,
		RequestID: req.ID,
		Status:    store.StatusCreditFailed,
		Note:      "credit failed: " + reason,
	}, nil
}

func (o *Orchestrator) appendLog(bank string, p parser.Payment, matched bool, note string) {
	if err := o.store.AppendLog(bank, p.Amount, matched, note); err != nil {
		o.logger.Error("failed to append audit log", "error", err)
	}
}
