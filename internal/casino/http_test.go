package casino

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSuccess bool
		wantMessage string
	}{
		{"bool success", `{"success": true, "message": "credited"}`, true, "credited"},
		{"bool failure", `{"success": false, "message": "account not found"}`, false, "account not found"},
		{"capitalized", `{"Success": true, "Message": "ok"}`, true, "ok"},
		{"status string", `{"status": "success"}`, true, ""},
		{"status failed", `{"status": "failed", "description": "limit exceeded"}`, false, "limit exceeded"},
		{"status int", `{"status": 1}`, true, ""},
		{"code zero", `{"code": 0, "msg": "done"}`, true, "done"},
		{"nested result", `{"result": {"success": true, "message": "fine"}}`, true, "fine"},
		{"nested data", `{"data": {"status": "ok"}}`, true, ""},
		{"error only", `{"error": "invalid account"}`, false, "invalid account"},
		{"empty envelope", `{}`, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := decodeEnvelope([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.wantSuccess, res.Success)
			assert.Equal(t, tc.wantMessage, res.Message)
			assert.JSONEq(t, tc.body, string(res.Raw))
		})
	}
}

func TestDecodeEnvelopeInvalidJSON(t *testing.T) {
	_, err := decodeEnvelope([]byte("<html>gateway timeout</html>"))
	assert.Error(t, err)
}

func TestHTTPClientDeposit(t *testing.T) {
	var gotBody depositRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/deposit", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Write([]byte(`{"success": true, "message": "credited"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient("1xbet", ProviderConfig{BaseURL: srv.URL, APIKey: "k"}, slog.Default())
	res, err := c.Deposit(context.Background(), "12345", decimal.RequireFromString("100.5"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "credited", res.Message)
	assert.Equal(t, "12345", gotBody.AccountID)
	assert.Equal(t, "100.50", gotBody.Amount)
	assert.Equal(t, "Bearer k", gotAuth)
}

func TestHTTPClientDepositRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "message": "player blocked"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient("melbet", ProviderConfig{BaseURL: srv.URL}, slog.Default())
	res, err := c.Deposit(context.Background(), "777", decimal.RequireFromString("50"))
	require.NoError(t, err, "a provider refusal is a result, not an error")
	assert.False(t, res.Success)
	assert.Equal(t, "player blocked", res.Message)
}

func TestHTTPClientDepositServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient("mostbet", ProviderConfig{BaseURL: srv.URL}, slog.Default())
	res, err := c.Deposit(context.Background(), "777", decimal.RequireFromString("50"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "502")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(map[string]ProviderConfig{
		"1xbet":  {BaseURL: "http://one"},
		"melbet": {BaseURL: "http://two"},
	}, slog.Default())

	c, err := r.For("1xBet")
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = r.For("winwin")
	assert.Error(t, err)
}
