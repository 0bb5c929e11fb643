package watcher

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassa-bot/internal/notify"
	"kassa-bot/internal/store"
)

type fakeNotifier struct {
	userMsgs   []string
	adminEdits []string
}

func (f *fakeNotifier) SendUser(_ int64, text string) { f.userMsgs = append(f.userMsgs, text) }
func (f *fakeNotifier) EditAdmin(_ int64, _ int, text string) {
	f.adminEdits = append(f.adminEdits, text)
}

type fakeDashboard struct {
	updates []notify.StatusUpdate
}

func (f *fakeDashboard) Notify(u notify.StatusUpdate) { f.updates = append(f.updates, u) }

func TestExpirerSweep(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "kassa.db"))
	require.NoError(t, err)
	defer st.Close()

	stale := &store.Request{
		UserID:          1,
		Bookmaker:       "1xbet",
		AccountID:       "111",
		Amount:          decimal.RequireFromString("50.00"),
		Type:            store.TypeDeposit,
		PendingDeadline: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, st.CreateRequest(stale))
	fresh := &store.Request{
		UserID:          2,
		Bookmaker:       "1xbet",
		AccountID:       "222",
		Amount:          decimal.RequireFromString("60.00"),
		Type:            store.TypeDeposit,
		PendingDeadline: time.Now().UTC().Add(30 * time.Minute),
	}
	require.NoError(t, st.CreateRequest(fresh))

	n := &fakeNotifier{}
	d := &fakeDashboard{}
	e := NewExpirer(st, n, d, time.Minute, slog.Default())
	e.sweep()

	got, err := st.GetRequest(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAwaitingManual, got.Status)

	left, err := st.GetRequest(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, left.Status)

	require.Len(t, n.userMsgs, 1)
	assert.Contains(t, n.userMsgs[0], "истекло")
	require.Len(t, d.updates, 1)
	assert.Equal(t, string(store.StatusAwaitingManual), d.updates[0].Status)
	assert.Equal(t, "timeout", d.updates[0].Source)

	// A second sweep finds nothing new.
	e.sweep()
	assert.Len(t, n.userMsgs, 1)
}
