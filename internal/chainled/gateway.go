// Package chainled abstracts the external settlement ledger.
//
// The engine never talks to a chain directly. Every fund movement goes
// through the Gateway interface:
//
//  1. LockFunds reserves payment from the requester and mints an intent
//  2. ReleaseFunds pays a portion of the intent to a recipient
//  3. RefundFunds returns the unreleased remainder to the requester
//
// Transfer moves spendable funds between addresses outside any intent,
// for payouts like reward claims.
//
// Release, refund and transfer calls carry a caller-chosen idempotency
// key. Replaying a key returns the originally recorded transaction
// reference without moving funds again, so callers can retry after
// transient failures without double payment.
package chainled

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidAmount     = errors.New("chainled: invalid amount")
	ErrInvalidAddress    = errors.New("chainled: invalid address")
	ErrInsufficientFunds = errors.New("chainled: insufficient funds")
	ErrIntentNotFound    = errors.New("chainled: payment intent not found")
	ErrIntentExhausted   = errors.New("chainled: intent has no unreleased funds")
	ErrUnavailable       = errors.New("chainled: settlement ledger unavailable")
)

// Gateway is the engine's only door to the settlement ledger.
// Implementations must be safe for concurrent use and must never be
// reached while an engine entity lock is held.
type Gateway interface {
	// LockFunds reserves amount of currency from the payer and returns
	// the ID of the minted payment intent.
	LockFunds(ctx context.Context, from, amount, currency string) (string, error)

	// ReleaseFunds pays amount from the intent's reserve to the
	// recipient. key is the caller's idempotency key; replaying a key
	// returns the recorded transaction reference with no second payment.
	ReleaseFunds(ctx context.Context, intentID, to, amount, key string) (string, error)

	// RefundFunds returns the intent's unreleased remainder to the
	// original payer. Idempotent per key, like ReleaseFunds.
	RefundFunds(ctx context.Context, intentID, key string) (string, error)

	// Transfer moves spendable funds directly from one address to
	// another, outside any payment intent. Idempotent per key.
	Transfer(ctx context.Context, from, to, amount, currency, key string) (string, error)

	// GetBalance reports the available balance of an address in the
	// given currency as a decimal string.
	GetBalance(ctx context.Context, address, currency string) (string, error)
}

// Intent describes a payment reservation held by the gateway. Amounts
// are canonical decimal strings.
type Intent struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Currency  string    `json:"currency"`
	Locked    string    `json:"locked"`
	Released  string    `json:"released"`
	Refunded  string    `json:"refunded"`
	CreatedAt time.Time `json:"createdAt"`
}
