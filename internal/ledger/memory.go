// Package ledger provides the account substrate the settlement core moves
// value through: an in-memory journal for development and tests, and a
// Postgres implementation that joins the settlement transaction.
package ledger

import (
	"context"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"

	"splitvault/internal/settlement/ports"
	"splitvault/pkg/domain"
	"splitvault/pkg/requestcontext"
)

// Entry is one journaled movement. Credits from outside the system have a
// zero From.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	From      domain.Identity `json:"from"`
	To        domain.Identity `json:"to"`
	Amount    uint64          `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// InMemory is a mutex-guarded balance map with an append-only journal.
type InMemory struct {
	mu       sync.RWMutex
	balances map[domain.Identity]uint64
	journal  []Entry
}

func NewInMemory() *InMemory {
	return &InMemory{balances: make(map[domain.Identity]uint64)}
}

// Credit adds externally sourced value to an account (deposits, seeding).
func (l *InMemory) Credit(ctx context.Context, account domain.Identity, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, carry := bits.Add64(l.balances[account], amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	l.balances[account] = next
	l.record(ctx, domain.Identity{}, account, amount)
	return nil
}

func (l *InMemory) Transfer(ctx context.Context, from, to domain.Identity, amount uint64) error {
	return l.TransferBatch(ctx, from, []ports.Payout{{To: to, Amount: amount}})
}

func (l *InMemory) TransferBatch(ctx context.Context, from domain.Identity, payouts []ports.Payout) error {
	total, err := sumPayouts(payouts)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < total {
		return ports.ErrInsufficientFunds
	}
	// Validate every credit before applying any leg.
	credited := make(map[domain.Identity]uint64, len(payouts))
	for _, p := range payouts {
		if p.Amount == 0 || p.To == from {
			continue
		}
		base, ok := credited[p.To]
		if !ok {
			base = l.balances[p.To]
		}
		next, carry := bits.Add64(base, p.Amount, 0)
		if carry != 0 {
			return ErrBalanceOverflow
		}
		credited[p.To] = next
	}

	l.balances[from] -= total
	for _, p := range payouts {
		if p.Amount == 0 {
			continue
		}
		if p.To == from {
			l.balances[from] += p.Amount
		}
		l.record(ctx, from, p.To, p.Amount)
	}
	for acct, bal := range credited {
		l.balances[acct] = bal
	}
	return nil
}

func (l *InMemory) Balance(_ context.Context, account domain.Identity) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account], nil
}

func (l *InMemory) Balances(_ context.Context, accounts []domain.Identity) (map[domain.Identity]uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[domain.Identity]uint64, len(accounts))
	for _, a := range accounts {
		out[a] = l.balances[a]
	}
	return out, nil
}

// Journal returns a copy of every recorded movement, oldest first.
func (l *InMemory) Journal() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.journal...)
}

func (l *InMemory) record(ctx context.Context, from, to domain.Identity, amount uint64) {
	l.journal = append(l.journal, Entry{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Amount:    amount,
		CreatedAt: requestcontext.Now(ctx),
	})
}

func sumPayouts(payouts []ports.Payout) (uint64, error) {
	var total uint64
	for _, p := range payouts {
		var carry uint64
		total, carry = bits.Add64(total, p.Amount, 0)
		if carry != 0 {
			return 0, ErrBalanceOverflow
		}
	}
	return total, nil
}
