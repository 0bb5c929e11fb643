package casino

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Result is the normalized outcome of a provider deposit call. Provider
// response envelopes are not contractually stable, so everything above the
// HTTP adapter only ever sees this shape.
type Result struct {
	Success bool
	Message string
	Raw     json.RawMessage
}

// Client credits a player's balance at a bookmaker. The call is
// at-least-once with no idempotency key; callers guard against
// double-crediting with the request status precondition, not here.
type Client interface {
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (Result, error)
}
