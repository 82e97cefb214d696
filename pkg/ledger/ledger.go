// Package ledger tracks requester balances and funds build debits.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds is returned when a debit would overdraw the
	// requester's balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownAccount is returned for balance lookups of accounts the
	// ledger has never seen.
	ErrUnknownAccount = errors.New("unknown account")
)

// Ledger is the money side of a build. Debit must be atomic with its
// own balance check; Credit is used both for refunds and compensation.
type Ledger interface {
	Balance(ctx context.Context, account string) (int64, error)
	Debit(ctx context.Context, account string, amount int64) error
	Credit(ctx context.Context, account string, amount int64) error
}
