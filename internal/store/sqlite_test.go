package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kassa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newDeposit(t *testing.T, s *SQLiteStore, userID int64, amount string) *Request {
	t.Helper()
	req := &Request{
		UserID:          userID,
		Bookmaker:       "1xbet",
		AccountID:       "12345",
		Amount:          decimal.RequireFromString(amount),
		Type:            TypeDeposit,
		PendingDeadline: time.Now().UTC().Add(30 * time.Minute),
	}
	require.NoError(t, s.CreateRequest(req))
	return req
}

func backdate(t *testing.T, s *SQLiteStore, id int64, by time.Duration) {
	t.Helper()
	_, err := s.db.Exec(`UPDATE requests SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-by), id)
	require.NoError(t, err)
}

func TestCreateAndGetRequest(t *testing.T) {
	s := newTestStore(t)
	req := newDeposit(t, s, 42, "100.53")
	require.NotZero(t, req.ID)

	got, err := s.GetRequest(req.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, TypeDeposit, got.Type)
	assert.Equal(t, "12345", got.AccountID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("100.53")))
	assert.False(t, got.BankReceived)
	assert.Nil(t, got.ProcessedAt)
}

func TestGetRequestMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRequest(999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindMatchExactAmountOnly(t *testing.T) {
	s := newTestStore(t)
	newDeposit(t, s, 1, "100.00")

	got, err := s.FindMatch(decimal.RequireFromString("100.53"), 15*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got, "amounts differing at 2 decimals must never match")

	got, err = s.FindMatch(decimal.RequireFromString("100.00"), 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, got.UserID)
}

func TestFindMatchMostRecentWins(t *testing.T) {
	s := newTestStore(t)
	older := newDeposit(t, s, 1, "250.00")
	backdate(t, s, older.ID, 5*time.Minute)
	newer := newDeposit(t, s, 2, "250.00")

	got, err := s.FindMatch(decimal.RequireFromString("250.00"), 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	// The older candidate stays pending and untouched.
	left, err := s.GetRequest(older.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, left.Status)
}

func TestFindMatchWindowBound(t *testing.T) {
	s := newTestStore(t)
	req := newDeposit(t, s, 1, "300.00")
	backdate(t, s, req.ID, time.Hour)

	got, err := s.FindMatch(decimal.RequireFromString("300.00"), 15*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got, "requests outside the matching window are not eligible")
}

func TestFindMatchIgnoresNonPending(t *testing.T) {
	s := newTestStore(t)
	req := newDeposit(t, s, 1, "80.00")
	ok, err := s.Reject(req.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.FindMatch(decimal.RequireFromString("80.00"), 15*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGuardedTransitionsNoDoubleConfirm(t *testing.T) {
	s := newTestStore(t)
	req := newDeposit(t, s, 1, "150.00")

	ok, err := s.CompleteAuto(req.ID, false)
	require.NoError(t, err)
	require.True(t, ok)

	// Every later transition attempt must be a silent no-op.
	ok, err = s.CompleteManual(req.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Reject(req.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.FailCredit(req.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.MarkBankReceived(req.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAutoSuccess, got.Status)
	assert.True(t, got.AutoCompleted)
	assert.NotNil(t, got.ProcessedAt)
}

func TestCompleteAutoWithReceipt(t *testing.T) {
	s := newTestStore(t)
	req := newDeposit(t, s, 1, "150.00")

	ok, err := s.CompleteAuto(req.ID, true)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.AutoCompleted)
}

func TestFailCredit(t *testing.T) {
	s := newTestStore(t)
	req := newDeposit(t, s, 1, "90.00")

	ok, err := s.MarkBankReceived(req.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.FailCredit(req.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreditFailed, got.Status)
	assert.True(t, got.BankReceived)
	assert.False(t, got.AutoCompleted)
}

func TestMarkReceiptReceivedExtendsDeadline(t *testing.T) {
	s := newTestStore(t)
	req := newDeposit(t, s, 1, "60.00")

	ok, err := s.MarkReceiptReceived(req.ID, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetRequest(req.ID)
	require.NoError(t, err)
	assert.True(t, got.ReceiptReceived)
	require.NotNil(t, got.ReceiptReceivedAt)
	assert.WithinDuration(t, got.ReceiptReceivedAt.Add(10*time.Minute), got.PendingDeadline, 2*time.Second)

	// The extension is applied once.
	ok, err = s.MarkReceiptReceived(req.ID, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpireStale(t *testing.T) {
	s := newTestStore(t)
	fresh := newDeposit(t, s, 1, "10.00")
	stale := newDeposit(t, s, 2, "20.00")
	_, err := s.db.Exec(`UPDATE requests SET pending_deadline = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Minute), stale.ID)
	require.NoError(t, err)

	expired, err := s.ExpireStale(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
	assert.Equal(t, StatusAwaitingManual, expired[0].Status)

	got, err := s.GetRequest(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestIncomingPaymentAudit(t *testing.T) {
	s := newTestStore(t)
	p := &IncomingPayment{
		Amount:      decimal.RequireFromString("100.53"),
		Bank:        "demirbank",
		PaymentDate: "2025-09-22T22:13:24",
		Text:        "зачисление на сумму 100.53 KGS",
	}
	require.NoError(t, s.RecordIncomingPayment(p))
	require.NotZero(t, p.ID)

	got, err := s.GetIncomingPayment(p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Processed)

	require.NoError(t, s.MarkPaymentProcessed(p.ID))
	got, err = s.GetIncomingPayment(p.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
}

func TestHeartbeatOverwrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Heartbeat("last_idle_at", "a"))
	require.NoError(t, s.Heartbeat("last_idle_at", "b"))

	var value string
	err := s.db.QueryRow(`SELECT value FROM autodeposit_health WHERE key = ?`, "last_idle_at").Scan(&value)
	require.NoError(t, err)
	assert.Equal(t, "b", value)
}

func TestRequisiteRotation(t *testing.T) {
	s := newTestStore(t)

	active, err := s.ActiveRequisite()
	require.NoError(t, err)
	assert.Nil(t, active)

	first := &Requisite{Name: "main", Bank: "demirbank", Mailbox: "pay@example.kg", Password: "secret", Active: true}
	require.NoError(t, s.SaveRequisite(first))
	second := &Requisite{Name: "backup", Bank: "mbank", Mailbox: "pay2@example.kg", Password: "secret2"}
	require.NoError(t, s.SaveRequisite(second))

	active, err = s.ActiveRequisite()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)

	require.NoError(t, s.SetActiveRequisite(second.ID))
	active, err = s.ActiveRequisite()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, "mbank", active.Bank)
}
