package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the request state machine. Everything except StatusPending is
// terminal; transitions only ever move forward and are applied as guarded
// conditional updates so a losing concurrent writer becomes a no-op.
type Status string

const (
	StatusPending        Status = "pending"
	StatusCompleted      Status = "completed"
	StatusAutoSuccess    Status = "autodeposit_success"
	StatusRejected       Status = "rejected"
	StatusAwaitingManual Status = "awaiting_manual"
	// StatusCreditFailed means the bank confirmed the money arrived but
	// crediting the casino account failed. The money is not lost; an
	// operator has to resolve the request by hand.
	StatusCreditFailed Status = "profile-5"
)

// RequestType distinguishes deposits from withdrawals.
type RequestType string

const (
	TypeDeposit  RequestType = "deposit"
	TypeWithdraw RequestType = "withdraw"
)

// Request is a deposit/withdraw request created by the bot's deposit flow
// and driven through the state machine by the watcher, the receipt handler
// and the admin approval path.
type Request struct {
	ID        int64
	UserID    int64
	Bookmaker string
	AccountID string
	Amount    decimal.Decimal
	Type      RequestType
	Status    Status

	BankReceived      bool
	BankReceivedAt    *time.Time
	ReceiptReceived   bool
	ReceiptReceivedAt *time.Time
	PendingDeadline   time.Time
	AutoCompleted     bool

	// Back-reference to the admin notification message so its inline
	// buttons can be edited away once the request resolves.
	AdminChatID    int64
	AdminMessageID int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

// IncomingPayment is the audit record of every parsed bank notification,
// matched or not. Unmatched rows are the admin's manual reconciliation
// trail.
type IncomingPayment struct {
	ID          int64
	Amount      decimal.Decimal
	Bank        string
	PaymentDate string // ISO-8601, empty when the notification had none
	Text        string
	Processed   bool
	CreatedAt   time.Time
}

// Requisite is an admin-configured payment-receiving identity: the bank
// whose notifications we parse plus the mailbox those notifications land
// in. Exactly one requisite is active at a time; rotating it rotates the
// monitored mailbox.
type Requisite struct {
	ID       int64
	Name     string
	Bank     string
	Mailbox  string
	Password string
	IMAPHost string // optional, inferred from the mailbox domain when empty
	Active   bool
}

// Store is the shared request store. The database is the single source of
// truth and the de-facto work queue; there is no transactional locking
// layer, only guarded updates.
type Store interface {
	// CreateRequest inserts a pending request and fills ID, CreatedAt and
	// UpdatedAt.
	CreateRequest(req *Request) error

	// GetRequest returns a request by id, or nil when it does not exist.
	GetRequest(id int64) (*Request, error)

	// PendingDeposit returns the user's current pending deposit request,
	// or nil.
	PendingDeposit(userID int64) (*Request, error)

	// FindMatch returns the most recently created pending deposit request
	// whose amount equals amount exactly (2 decimals) and which was
	// created within the trailing window. Returns nil on a miss; a miss
	// is not an error.
	FindMatch(amount decimal.Decimal, window time.Duration) (*Request, error)

	// MarkBankReceived stamps bank_received on a still-pending request.
	// Returns false when the request already left pending.
	MarkBankReceived(id int64) (bool, error)

	// MarkReceiptReceived stamps receipt_received and extends the payment
	// deadline once by grace. Returns false when the request already left
	// pending.
	MarkReceiptReceived(id int64, grace time.Duration) (bool, error)

	// CompleteAuto transitions pending -> autodeposit_success (or
	// completed when the receipt already arrived) after a successful
	// automatic casino credit. Returns false when another actor won.
	CompleteAuto(id int64, receiptReceived bool) (bool, error)

	// CompleteManual transitions pending -> completed on admin approval.
	CompleteManual(id int64) (bool, error)

	// FailCredit transitions pending -> profile-5 after the casino credit
	// failed with the bank money already confirmed.
	FailCredit(id int64) (bool, error)

	// Reject transitions pending -> rejected on admin rejection.
	Reject(id int64) (bool, error)

	// ExpireStale transitions pending deposits whose deadline passed to
	// awaiting_manual and returns the requests it transitioned.
	ExpireStale(now time.Time) ([]Request, error)

	// SetAdminMessage records the admin notification back-reference.
	SetAdminMessage(id, chatID int64, messageID int) error

	// RecordIncomingPayment appends an audit row and fills its ID.
	RecordIncomingPayment(p *IncomingPayment) error

	// MarkPaymentProcessed flips is_processed on an audit row.
	MarkPaymentProcessed(id int64) error

	// AppendLog appends one diagnostic row per processed email.
	AppendLog(bank string, amount decimal.Decimal, matched bool, note string) error

	// Heartbeat upserts a liveness key (last_idle_at and friends).
	Heartbeat(key, value string) error

	// ActiveRequisite returns the single active requisite, or nil when
	// none is configured.
	ActiveRequisite() (*Requisite, error)

	// SaveRequisite inserts or updates a requisite and fills its ID.
	SaveRequisite(r *Requisite) error

	// SetActiveRequisite makes the given requisite the only active one.
	SetActiveRequisite(id int64) error

	// Close releases resources.
	Close() error
}
