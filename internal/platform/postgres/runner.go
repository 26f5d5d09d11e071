package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"splitvault/internal/platform/lock"
	dErrors "splitvault/pkg/domain-errors"
	txcontext "splitvault/pkg/platform/tx"
)

// TxRunner opens one transaction per unit of work and takes a
// transaction-scoped advisory lock on the record key first, so concurrent
// operations on one record queue behind each other across processes.
type TxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewTxRunner builds the runner. A positive timeout overrides
// lock.DefaultTimeout for work that arrives without a deadline.
func NewTxRunner(db *sql.DB, timeout time.Duration) *TxRunner {
	if timeout <= 0 {
		timeout = lock.DefaultTimeout
	}
	return &TxRunner{db: db, timeout: timeout}
}

func (r *TxRunner) RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ctx, cancel, err := lock.Bound(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return timeoutOr(ctx, err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return timeoutOr(ctx, err, "acquire advisory lock")
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return timeoutOr(ctx, err, "commit transaction")
	}
	return nil
}

func timeoutOr(ctx context.Context, err error, what string) error {
	if ctx.Err() != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fmt.Errorf("%s: %w", what, err)
}
