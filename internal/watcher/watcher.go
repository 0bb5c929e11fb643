package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kassa-bot/internal/mailbox"
	"kassa-bot/internal/parser"
	"kassa-bot/internal/reconcile"
	"kassa-bot/internal/store"
)

// Config controls the mail watcher. Mailbox credentials are not here; they
// come from the active requisite so rotating payment details rotates the
// monitored mailbox.
type Config struct {
	Enabled   bool
	IMAPHost  string // optional override for the inferred host
	Folder    string
	Interval  time.Duration // polling fallback interval
	UseIdle   bool
	Keepalive time.Duration // IDLE renewal bound
}

// Watcher is the long-lived background task that reconciles incoming bank
// notification emails against pending deposit requests. One per bot
// process. Transient failures never kill it; it reconnects with backoff
// and keeps going until the context is cancelled.
type Watcher struct {
	cfg    Config
	store  store.Store
	orch   *reconcile.Orchestrator
	logger *slog.Logger
}

// New creates a watcher.
func New(cfg Config, st store.Store, orch *reconcile.Orchestrator, logger *slog.Logger) *Watcher {
	return &Watcher{cfg: cfg, store: st, orch: orch, logger: logger}
}

const (
	minBackoff = time.Second
	maxBackoff = 5 * time.Minute
)

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.cfg.Enabled {
		w.logger.Info("autodeposit watcher disabled")
		return nil
	}

	w.heartbeat("watcher_started_at")
	backoff := minBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := w.store.ActiveRequisite()
		if err != nil {
			w.logger.Error("failed to load active requisite", "error", err)
		}
		if req == nil {
			w.logger.Warn("no active requisite configured, watcher idle")
			if !sleep(ctx, w.cfg.Interval) {
				return ctx.Err()
			}
			continue
		}
		if !parser.Supported(req.Bank) {
			w.logger.Error("active requisite has no parsing rules", "bank", req.Bank)
			if !sleep(ctx, w.cfg.Interval) {
				return ctx.Err()
			}
			continue
		}

		sess, err := mailbox.Connect(mailbox.Config{
			Host:     firstNonEmpty(req.IMAPHost, w.cfg.IMAPHost),
			Address:  req.Mailbox,
			Password: req.Password,
			Folder:   w.cfg.Folder,
		}, w.logger)
		if err != nil {
			w.logger.Error("mailbox connect failed", "error", err, "mailbox", req.Mailbox, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		w.logger.Info("mailbox connected", "mailbox", req.Mailbox, "bank", req.Bank)
		err = w.watch(ctx, sess, req)
		sess.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			w.logger.Warn("mailbox session ended", "error", err)
		}
	}
}

// watch runs one connected session until it errors, the context ends, or
// the active requisite rotates out from under it.
func (w *Watcher) watch(ctx context.Context, sess *mailbox.Session, req *store.Requisite) error {
	// A session that fails IDLE once stays on polling; providers with
	// flaky IDLE support otherwise flap between the two modes.
	idle := w.cfg.UseIdle && sess.SupportsIdle()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.process(ctx, sess, req.Bank); err != nil {
			return err
		}

		if rotated, err := w.requisiteRotated(req); err == nil && rotated {
			w.logger.Info("active requisite rotated, reconnecting")
			return nil
		}

		if idle {
			w.heartbeat("last_idle_at")
			if err := sess.Idle(ctx, w.cfg.Keepalive); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				w.logger.Warn("idle failed, falling back to polling", "error", err)
				idle = false
			}
			continue
		}

		w.heartbeat("last_poll_at")
		if !sleep(ctx, w.cfg.Interval) {
			return ctx.Err()
		}
	}
}

// process drains unseen messages. Each message is handled strictly
// sequentially (extract, parse, confirm) and marked seen only after its
// processing finished, giving at-least-once semantics across crashes.
func (w *Watcher) process(ctx context.Context, sess *mailbox.Session, bank string) error {
	msgs, err := sess.FetchUnseen()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	w.heartbeat("last_message_at")

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}

		corrID := uuid.New().String()
		text, err := mailbox.ExtractText(msg.Raw)
		if err != nil {
			w.logger.Warn("failed to extract message text",
				"error", err, "uid", msg.UID, "correlation_id", corrID)
			// Unreadable mail will not become readable on retry.
			if err := sess.MarkSeen(msg.UID); err != nil {
				return err
			}
			continue
		}

		payment, ok := parser.Parse(bank, text)
		if !ok {
			// Most mailbox traffic is not a payment notification.
			if err := sess.MarkSeen(msg.UID); err != nil {
				return err
			}
			continue
		}

		out, err := w.orch.Confirm(ctx, bank, payment, text)
		if err != nil {
			// Store-level failure: leave the message unseen so the next
			// cycle retries it.
			w.logger.Error("confirmation failed",
				"error", err, "uid", msg.UID, "correlation_id", corrID)
			continue
		}
		w.logger.Info("notification processed",
			"correlation_id", corrID,
			"bank", bank,
			"amount", payment.Amount.StringFixed(2),
			"matched", out.Matched,
			"request_id", out.RequestID,
			"status", string(out.Status),
			"note", out.Note)

		if err := sess.MarkSeen(msg.UID); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) requisiteRotated(current *store.Requisite) (bool, error) {
	active, err := w.store.ActiveRequisite()
	if err != nil {
		return false, err
	}
	return active == nil || active.ID != current.ID, nil
}

func (w *Watcher) heartbeat(key string) {
	if err := w.store.Heartbeat(key, time.Now().UTC().Format(time.RFC3339)); err != nil {
		w.logger.Error("heartbeat failed", "error", err, "key", key)
	}
}

// sleep waits d or until ctx ends; false means the context ended.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
