package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite for persistence
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the request database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			bookmaker TEXT NOT NULL,
			account_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			request_type TEXT NOT NULL,
			status TEXT NOT NULL,
			bank_received INTEGER NOT NULL DEFAULT 0,
			bank_received_at DATETIME,
			receipt_received INTEGER NOT NULL DEFAULT 0,
			receipt_received_at DATETIME,
			pending_deadline DATETIME NOT NULL,
			auto_completed INTEGER NOT NULL DEFAULT 0,
			admin_chat_id INTEGER NOT NULL DEFAULT 0,
			admin_message_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			processed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_match
			ON requests (request_type, status, amount)`,
		`CREATE TABLE IF NOT EXISTS incoming_payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			amount TEXT NOT NULL,
			bank TEXT NOT NULL,
			payment_date TEXT,
			notification_text TEXT NOT NULL,
			is_processed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS autodeposit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bank TEXT NOT NULL,
			amount TEXT NOT NULL,
			matched INTEGER NOT NULL,
			note TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS autodeposit_health (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS requisites (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			bank TEXT NOT NULL,
			mailbox TEXT NOT NULL,
			mailbox_password TEXT NOT NULL,
			imap_host TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// CreateRequest inserts a pending request and fills ID, CreatedAt and UpdatedAt.
func (s *SQLiteStore) CreateRequest(req *Request) error {
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = StatusPending
	}
	req.Amount = req.Amount.Round(2)

	res, err := s.db.Exec(`
		INSERT INTO requests
			(user_id, bookmaker, account_id, amount, request_type, status,
			 pending_deadline, admin_chat_id, admin_message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.UserID, req.Bookmaker, req.AccountID, req.Amount.StringFixed(2),
		string(req.Type), string(req.Status), req.PendingDeadline,
		req.AdminChatID, req.AdminMessageID, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	req.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	return nil
}

const requestColumns = `id, user_id, bookmaker, account_id, amount, request_type, status,
	bank_received, bank_received_at, receipt_received, receipt_received_at,
	pending_deadline, auto_completed, admin_chat_id, admin_message_id,
	created_at, updated_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		req               Request
		amount            string
		reqType, status   string
		bankReceivedAt    sql.NullTime
		receiptReceivedAt sql.NullTime
		processedAt       sql.NullTime
	)
	err := row.Scan(&req.ID, &req.UserID, &req.Bookmaker, &req.AccountID,
		&amount, &reqType, &status,
		&req.BankReceived, &bankReceivedAt,
		&req.ReceiptReceived, &receiptReceivedAt,
		&req.PendingDeadline, &req.AutoCompleted,
		&req.AdminChatID, &req.AdminMessageID,
		&req.CreatedAt, &req.UpdatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	req.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("stored amount %q: %w", amount, err)
	}
	req.Type = RequestType(reqType)
	req.Status = Status(status)
	if bankReceivedAt.Valid {
		req.BankReceivedAt = &bankReceivedAt.Time
	}
	if receiptReceivedAt.Valid {
		req.ReceiptReceivedAt = &receiptReceivedAt.Time
	}
	if processedAt.Valid {
		req.ProcessedAt = &processedAt.Time
	}
	return &req, nil
}

// GetRequest returns a request by id, or nil when it does not exist.
func (s *SQLiteStore) GetRequest(id int64) (*Request, error) {
	row := s.db.QueryRow(`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	return req, nil
}

// PendingDeposit returns the user's current pending deposit request, or nil.
func (s *SQLiteStore) PendingDeposit(userID int64) (*Request, error) {
	row := s.db.QueryRow(`
		SELECT `+requestColumns+` FROM requests
		WHERE user_id = ? AND request_type = ? AND status = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, userID, string(TypeDeposit), string(StatusPending))
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pending deposit: %w", err)
	}
	return req, nil
}

// FindMatch returns the most recently created pending deposit with an exact
// 2-decimal amount match inside the trailing window. Amounts are compared
// as canonical fixed-point strings; there is no tolerance band, and ties on
// amount resolve to the newest request only (no fan-out).
func (s *SQLiteStore) FindMatch(amount decimal.Decimal, window time.Duration) (*Request, error) {
	rows, err := s.db.Query(`
		SELECT `+requestColumns+` FROM requests
		WHERE request_type = ? AND status = ? AND amount = ?
		ORDER BY created_at DESC, id DESC
	`, string(TypeDeposit), string(StatusPending), amount.Round(2).StringFixed(2))
	if err != nil {
		return nil, fmt.Errorf("query match candidates: %w", err)
	}
	defer rows.Close()

	cutoff := time.Now().UTC().Add(-window)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match candidate: %w", err)
		}
		if req.CreatedAt.Before(cutoff) {
			// Rows are newest-first; everything after this is older.
			break
		}
		return req, rows.Err()
	}
	return nil, rows.Err()
}

// guardedUpdate runs an update that must only apply while the request is
// still pending. A false return means a concurrent actor already moved the
// request on; the caller must treat that as a silent no-op.
func (s *SQLiteStore) guardedUpdate(query string, args ...any) (bool, error) {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkBankReceived stamps bank_received on a still-pending request.
func (s *SQLiteStore) MarkBankReceived(id int64) (bool, error) {
	now := time.Now().UTC()
	ok, err := s.guardedUpdate(`
		UPDATE requests
		SET bank_received = 1, bank_received_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND bank_received = 0
	`, now, now, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("mark bank received: %w", err)
	}
	return ok, nil
}

// MarkReceiptReceived stamps receipt_received and extends the payment
// deadline once by grace, so a user who uploads the receipt just before
// expiry is not cut off while the bank email is still in flight.
func (s *SQLiteStore) MarkReceiptReceived(id int64, grace time.Duration) (bool, error) {
	now := time.Now().UTC()
	ok, err := s.guardedUpdate(`
		UPDATE requests
		SET receipt_received = 1, receipt_received_at = ?,
		    pending_deadline = ?, updated_at = ?
		WHERE id = ? AND status = ? AND receipt_received = 0
	`, now, now.Add(grace), now, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("mark receipt received: %w", err)
	}
	return ok, nil
}

// CompleteAuto finishes an automatically confirmed deposit.
func (s *SQLiteStore) CompleteAuto(id int64, receiptReceived bool) (bool, error) {
	target := StatusAutoSuccess
	if receiptReceived {
		target = StatusCompleted
	}
	now := time.Now().UTC()
	ok, err := s.guardedUpdate(`
		UPDATE requests
		SET status = ?, auto_completed = 1, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(target), now, now, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("complete auto: %w", err)
	}
	return ok, nil
}

// CompleteManual finishes a deposit approved by an admin.
func (s *SQLiteStore) CompleteManual(id int64) (bool, error) {
	now := time.Now().UTC()
	ok, err := s.guardedUpdate(`
		UPDATE requests
		SET status = ?, auto_completed = 0, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusCompleted), now, now, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("complete manual: %w", err)
	}
	return ok, nil
}

// FailCredit marks a request whose bank money arrived but whose casino
// credit failed.
func (s *SQLiteStore) FailCredit(id int64) (bool, error) {
	now := time.Now().UTC()
	ok, err := s.guardedUpdate(`
		UPDATE requests
		SET status = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusCreditFailed), now, now, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("fail credit: %w", err)
	}
	return ok, nil
}

// Reject marks a request rejected by an admin.
func (s *SQLiteStore) Reject(id int64) (bool, error) {
	now := time.Now().UTC()
	ok, err := s.guardedUpdate(`
		UPDATE requests
		SET status = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusRejected), now, now, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("reject: %w", err)
	}
	return ok, nil
}

// ExpireStale transitions pending deposits whose deadline passed to
// awaiting_manual. Each transition is individually guarded, so a request
// resolved between the select and the update is skipped.
func (s *SQLiteStore) ExpireStale(now time.Time) ([]Request, error) {
	rows, err := s.db.Query(`
		SELECT `+requestColumns+` FROM requests
		WHERE request_type = ? AND status = ?
	`, string(TypeDeposit), string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("query pending requests: %w", err)
	}

	var stale []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		if req.PendingDeadline.Before(now) {
			stale = append(stale, *req)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var expired []Request
	for _, req := range stale {
		ok, err := s.guardedUpdate(`
			UPDATE requests
			SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(StatusAwaitingManual), now.UTC(), req.ID, string(StatusPending))
		if err != nil {
			return expired, fmt.Errorf("expire request %d: %w", req.ID, err)
		}
		if ok {
			req.Status = StatusAwaitingManual
			expired = append(expired, req)
		}
	}
	return expired, nil
}

// SetAdminMessage records where the admin notification for this request
// lives so it can be edited in place later.
func (s *SQLiteStore) SetAdminMessage(id, chatID int64, messageID int) error {
	_, err := s.db.Exec(`
		UPDATE requests SET admin_chat_id = ?, admin_message_id = ?, updated_at = ?
		WHERE id = ?
	`, chatID, messageID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set admin message: %w", err)
	}
	return nil
}

const maxNotificationText = 1000

// RecordIncomingPayment appends an audit row for a parsed notification.
func (s *SQLiteStore) RecordIncomingPayment(p *IncomingPayment) error {
	p.CreatedAt = time.Now().UTC()
	text := p.Text
	if len(text) > maxNotificationText {
		text = text[:maxNotificationText]
	}
	res, err := s.db.Exec(`
		INSERT INTO incoming_payments (amount, bank, payment_date, notification_text, is_processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Amount.Round(2).StringFixed(2), p.Bank, p.PaymentDate, text, p.Processed, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert incoming payment: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("incoming payment id: %w", err)
	}
	return nil
}

// MarkPaymentProcessed flips is_processed on an audit row.
func (s *SQLiteStore) MarkPaymentProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE incoming_payments SET is_processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark payment processed: %w", err)
	}
	return nil
}

// GetIncomingPayment returns an audit row by id, or nil.
func (s *SQLiteStore) GetIncomingPayment(id int64) (*IncomingPayment, error) {
	var (
		p      IncomingPayment
		amount string
		date   sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, amount, bank, payment_date, notification_text, is_processed, created_at
		FROM incoming_payments WHERE id = ?
	`, id).Scan(&p.ID, &amount, &p.Bank, &date, &p.Text, &p.Processed, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query incoming payment: %w", err)
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("stored amount %q: %w", amount, err)
	}
	p.PaymentDate = date.String
	return &p, nil
}

// AppendLog appends one diagnostic row per processed email.
func (s *SQLiteStore) AppendLog(bank string, amount decimal.Decimal, matched bool, note string) error {
	_, err := s.db.Exec(`
		INSERT INTO autodeposit_log (bank, amount, matched, note, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, bank, amount.Round(2).StringFixed(2), matched, note, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// Heartbeat upserts a liveness key.
func (s *SQLiteStore) Heartbeat(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO autodeposit_health (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// ActiveRequisite returns the single active requisite, or nil.
func (s *SQLiteStore) ActiveRequisite() (*Requisite, error) {
	var r Requisite
	err := s.db.QueryRow(`
		SELECT id, name, bank, mailbox, mailbox_password, imap_host, active
		FROM requisites WHERE active = 1 LIMIT 1
	`).Scan(&r.ID, &r.Name, &r.Bank, &r.Mailbox, &r.Password, &r.IMAPHost, &r.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active requisite: %w", err)
	}
	return &r, nil
}

// SaveRequisite inserts or updates a requisite.
func (s *SQLiteStore) SaveRequisite(r *Requisite) error {
	if r.ID == 0 {
		res, err := s.db.Exec(`
			INSERT INTO requisites (name, bank, mailbox, mailbox_password, imap_host, active)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.Name, r.Bank, r.Mailbox, r.Password, r.IMAPHost, r.Active)
		if err != nil {
			return fmt.Errorf("insert requisite: %w", err)
		}
		r.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("requisite id: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(`
		UPDATE requisites SET name = ?, bank = ?, mailbox = ?, mailbox_password = ?, imap_host = ?, active = ?
		WHERE id = ?
	`, r.Name, r.Bank, r.Mailbox, r.Password, r.IMAPHost, r.Active, r.ID)
	if err != nil {
		return fmt.Errorf("update requisite: %w", err)
	}
	return nil
}

// SetActiveRequisite makes the given requisite the only active one.
func (s *SQLiteStore) SetActiveRequisite(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE requisites SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("deactivate requisites: %w", err)
	}
	res, err := tx.Exec(`UPDATE requisites SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activate requisite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("requisite %d not found", id)
	}
	return tx.Commit()
}

// Close releases database resources
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
