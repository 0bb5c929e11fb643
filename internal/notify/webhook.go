package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// StatusUpdate is the payload the admin dashboard receives whenever a
// request changes status.
type StatusUpdate struct {
	RequestType  string `json:"request_type"`
	RequestID    int64  `json:"request_id"`
	Status       string `json:"status"`
	StatusDetail string `json:"status_detail,omitempty"`
	Source       string `json:"source"`
}

// Webhook posts status updates to the admin dashboard. Fire-and-forget:
// short timeout, failures logged and swallowed. The dashboard view is
// eventually consistent with the store, not transactionally.
type Webhook struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhook creates a dispatcher. An empty baseURL disables dispatch.
func NewWebhook(baseURL string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Notify posts one status update.
func (w *Webhook) Notify(update StatusUpdate) {
	if w.baseURL == "" {
		return
	}

	body, err := json.Marshal(update)
	if err != nil {
		w.logger.Error("failed to marshal webhook payload", "error", err)
		return
	}

	req, err := http.NewRequest("POST", w.baseURL+"/api/requests/status", bytes.NewReader(body))
	if err != nil {
		w.logger.Error("failed to create webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Warn("webhook dispatch failed", "error", err, "request_id", update.RequestID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn("webhook rejected",
			"status", fmt.Sprintf("%d", resp.StatusCode), "request_id", update.RequestID)
	}
}
