package casino

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderConfig is one bookmaker endpoint.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient implements Client against one provider's HTTP API.
type HTTPClient struct {
	provider   string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a deposit client for one provider.
func NewHTTPClient(provider string, cfg ProviderConfig, logger *slog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		provider:   provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type depositRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

// Deposit credits amount to the player account. A transport or decode
// failure is an error; a provider-reported refusal is a Result with
// Success=false, not an error.
func (c *HTTPClient) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (Result, error) {
	body, err := json.Marshal(depositRequest{
		AccountID: accountID,
		Amount:    amount.StringFixed(2),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/deposit", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("provider returned non-2xx",
			"provider", c.provider, "status", resp.StatusCode)
		return Result{Success: false, Message: fmt.Sprintf("http %d", resp.StatusCode), Raw: raw}, nil
	}

	result, err := decodeEnvelope(raw)
	if err != nil {
		return Result{}, fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	return result, nil
}

// decodeEnvelope normalizes the provider response. The shapes observed in
// the wild differ per provider and per error path, so every known key
// variant is probed here and nowhere else.
func decodeEnvelope(raw []byte) (Result, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{}, err
	}

	// Some providers nest the payload.
	for _, key := range []string{"result", "data", "response"} {
		if nested, ok := env[key]; ok {
			var inner map[string]json.RawMessage
			if json.Unmarshal(nested, &inner) == nil && len(inner) > 0 {
				env = inner
			}
			break
		}
	}

	res := Result{Raw: raw}
	res.Message = firstString(env, "message", "msg", "Message", "description", "error", "error_message")

	for _, key := range []string{"success", "Success", "ok"} {
		if v, ok := env[key]; ok {
			var b bool
			if json.Unmarshal(v, &b) == nil {
				res.Success = b
				return res, nil
			}
		}
	}
	if v, ok := env["status"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			s = strings.ToLower(s)
			res.Success = s == "success" || s == "ok" || s == "done"
			return res, nil
		}
		var n int
		if json.Unmarshal(v, &n) == nil {
			res.Success = n == 1
			return res, nil
		}
	}
	if v, ok := env["code"]; ok {
		var n int
		if json.Unmarshal(v, &n) == nil {
			res.Success = n == 0 || n == 200
			return res, nil
		}
	}

	// An error field with nothing else means failure; an empty envelope
	// without any recognizable marker is treated as a refusal too.
	_, hasErr := env["error"]
	res.Success = false
	if res.Message == "" && hasErr {
		res.Message = "provider error"
	}
	return res, nil
}

func firstString(env map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		v, ok := env[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

// Registry maps bookmaker keys to deposit clients.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds one HTTP client per configured provider.
func NewRegistry(providers map[string]ProviderConfig, logger *slog.Logger) *Registry {
	clients := make(map[string]Client, len(providers))
	for name, cfg := range providers {
		clients[strings.ToLower(name)] = NewHTTPClient(name, cfg, logger)
	}
	return &Registry{clients: clients}
}

// For returns the client for a bookmaker key.
func (r *Registry) For(bookmaker string) (Client, error) {
	c, ok := r.clients[strings.ToLower(bookmaker)]
	if !ok {
		return nil, fmt.Errorf("no provider configured for bookmaker %q", bookmaker)
	}
	return c, nil
}
