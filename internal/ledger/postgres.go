package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"splitvault/internal/platform/postgres"
	"splitvault/internal/settlement/ports"
	"splitvault/pkg/domain"
	txcontext "splitvault/pkg/platform/tx"
	"splitvault/pkg/requestcontext"
)

// PostgresLedger keeps balances in ledger_accounts (NUMERIC(20,0), checked
// non-negative) and journals every movement to ledger_entries.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Credit adds externally sourced value to an account.
func (l *PostgresLedger) Credit(ctx context.Context, account domain.Identity, amount uint64) error {
	return l.inTx(ctx, func(ctx context.Context, exec txcontext.Executor) error {
		if err := credit(ctx, exec, account, amount); err != nil {
			return err
		}
		return journal(ctx, exec, nil, account, amount)
	})
}

func (l *PostgresLedger) Transfer(ctx context.Context, from, to domain.Identity, amount uint64) error {
	return l.TransferBatch(ctx, from, []ports.Payout{{To: to, Amount: amount}})
}

func (l *PostgresLedger) TransferBatch(ctx context.Context, from domain.Identity, payouts []ports.Payout) error {
	total, err := sumPayouts(payouts)
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	return l.inTx(ctx, func(ctx context.Context, exec txcontext.Executor) error {
		res, err := exec.ExecContext(ctx, `
			UPDATE ledger_accounts
			SET balance = balance - $2::numeric
			WHERE account = $1 AND balance >= $2::numeric
		`, from.String(), formatAmount(total))
		if err != nil {
			return fmt.Errorf("debit account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("debit account: %w", err)
		}
		if n == 0 {
			return ports.ErrInsufficientFunds
		}
		for _, p := range payouts {
			if p.Amount == 0 {
				continue
			}
			if err := credit(ctx, exec, p.To, p.Amount); err != nil {
				return err
			}
			src := from
			if err := journal(ctx, exec, &src, p.To, p.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *PostgresLedger) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	var raw string
	err := txcontext.Exec(ctx, l.db).QueryRowContext(ctx,
		`SELECT balance::text FROM ledger_accounts WHERE account = $1`, account.String(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", raw, err)
	}
	return v, nil
}

func (l *PostgresLedger) Balances(ctx context.Context, accounts []domain.Identity) (map[domain.Identity]uint64, error) {
	out := make(map[domain.Identity]uint64, len(accounts))
	if len(accounts) == 0 {
		return out, nil
	}
	keys := make([]string, len(accounts))
	for i, a := range accounts {
		keys[i] = a.String()
		out[a] = 0
	}
	rows, err := txcontext.Exec(ctx, l.db).QueryContext(ctx,
		`SELECT account, balance::text FROM ledger_accounts WHERE account = ANY($1)`, pq.Array(keys),
	)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var account, raw string
		if err := rows.Scan(&account, &raw); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		id, err := domain.ParseIdentity(account)
		if err != nil {
			return nil, fmt.Errorf("parse account %q: %w", account, err)
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse balance %q: %w", raw, err)
		}
		out[id] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return out, nil
}

// inTx joins the transaction carried by ctx, or opens one so a batch never
// applies partially.
func (l *PostgresLedger) inTx(ctx context.Context, fn func(ctx context.Context, exec txcontext.Executor) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(ctx, tx)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(txcontext.WithTx(ctx, tx), tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// credit relies on the balance column's CHECK to reject a total past the
// uint64 range; that violation surfaces as ErrBalanceOverflow.
func credit(ctx context.Context, exec txcontext.Executor, account domain.Identity, amount uint64) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO ledger_accounts (account, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (account) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance
	`, account.String(), formatAmount(amount))
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return ErrBalanceOverflow
		}
		return fmt.Errorf("credit account: %w", err)
	}
	return nil
}

func journal(ctx context.Context, exec txcontext.Executor, from *domain.Identity, to domain.Identity, amount uint64) error {
	var src sql.NullString
	if from != nil {
		src = sql.NullString{String: from.String(), Valid: true}
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, from_account, to_account, amount, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5)
	`, uuid.New(), src, to.String(), formatAmount(amount), requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("journal transfer: %w", err)
	}
	return nil
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}
