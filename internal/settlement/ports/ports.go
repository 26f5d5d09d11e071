// Package ports declares the collaborators the settlement core consumes.
package ports

import (
	"context"
	"errors"

	"splitvault/pkg/domain"
	audit "splitvault/pkg/platform/audit"
)

// ErrInsufficientFunds is returned by a Ledger when the source account
// cannot cover a movement. Nothing moves when it is returned.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// ErrBalanceOverflow is returned when a credit would exceed the uint64 range.
var ErrBalanceOverflow = errors.New("ledger: balance overflow")

// Payout is one leg of a batch transfer.
type Payout struct {
	To     domain.Identity
	Amount uint64
}

// Ledger moves value between accounts. Implementations join the transaction
// carried by ctx when there is one.
type Ledger interface {
	Transfer(ctx context.Context, from, to domain.Identity, amount uint64) error
	// TransferBatch pays every leg from one source atomically: either all
	// legs apply or none do. Zero-amount legs are skipped.
	TransferBatch(ctx context.Context, from domain.Identity, payouts []Payout) error
	Balance(ctx context.Context, account domain.Identity) (uint64, error)
	// Balances reads several accounts at once; unknown accounts read as 0.
	Balances(ctx context.Context, accounts []domain.Identity) (map[domain.Identity]uint64, error)
}

// AuditPublisher records one transition. It is fail-closed: an error means
// the transition must not be reported as applied.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxRunner serializes work on one record key and makes it all-or-nothing.
type TxRunner interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
