package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"splitvault/internal/platform/postgres"
	"splitvault/internal/settlement/models"
	"splitvault/pkg/domain"
	"splitvault/pkg/platform/sentinel"
	txcontext "splitvault/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `address, escrow_id::text, payer, splits, total_amount::text, state, deadline,
	storage_deposit::text, schema_version, created_at, funded_at, approved_at,
	settled_at, refunded_at, frozen_at, closed_at`

func (s *PostgresStore) Create(ctx context.Context, e *models.Escrow) error {
	splits, err := json.Marshal(e.Splits)
	if err != nil {
		return fmt.Errorf("marshal splits: %w", err)
	}
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO escrows (address, escrow_id, payer, splits, total_amount, state, deadline,
			storage_deposit, schema_version, created_at, funded_at, approved_at,
			settled_at, refunded_at, frozen_at, closed_at)
		VALUES ($1, $2::numeric, $3, $4, $5::numeric, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		e.Address.String(), u64(e.ID), e.Payer.String(), splits, u64(e.TotalAmount), string(e.State), e.Deadline,
		u64(e.StorageDeposit), e.SchemaVersion, e.CreatedAt, e.FundedAt, e.ApprovedAt,
		e.SettledAt, e.RefundedAt, e.FrozenAt, e.ClosedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByAddress(ctx context.Context, address domain.Identity) (*models.Escrow, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE address = $1`, address.String())
	e, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find escrow: %w", err)
	}
	return e, nil
}

// Update writes the mutable lifecycle columns. Plan, amounts and identity
// never change after creation.
func (s *PostgresStore) Update(ctx context.Context, e *models.Escrow) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE escrows
		SET state = $2, funded_at = $3, approved_at = $4, settled_at = $5,
			refunded_at = $6, frozen_at = $7, closed_at = $8
		WHERE address = $1
	`, e.Address.String(), string(e.State), e.FundedAt, e.ApprovedAt, e.SettledAt,
		e.RefundedAt, e.FrozenAt, e.ClosedAt)
	if err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}
	return requireRow(res, "update escrow")
}

func (s *PostgresStore) Delete(ctx context.Context, address domain.Identity) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`DELETE FROM escrows WHERE address = $1`, address.String())
	if err != nil {
		return fmt.Errorf("delete escrow: %w", err)
	}
	return requireRow(res, "delete escrow")
}

func (s *PostgresStore) ListByPayer(ctx context.Context, payer domain.Identity) ([]*models.Escrow, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE payer = $1 ORDER BY created_at, address`, payer.String())
	if err != nil {
		return nil, fmt.Errorf("list escrows: %w", err)
	}
	defer rows.Close()
	var out []*models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escrow: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row scanner) (*models.Escrow, error) {
	var (
		e                                 models.Escrow
		address, payer, state             string
		id, total, deposit                string
		splits                            []byte
		deadline, funded, approved        sql.NullTime
		settled, refunded, frozen, closed sql.NullTime
	)
	if err := row.Scan(&address, &id, &payer, &splits, &total, &state, &deadline,
		&deposit, &e.SchemaVersion, &e.CreatedAt, &funded, &approved,
		&settled, &refunded, &frozen, &closed); err != nil {
		return nil, err
	}
	var err error
	if e.Address, err = domain.ParseIdentity(address); err != nil {
		return nil, err
	}
	if e.Payer, err = domain.ParseIdentity(payer); err != nil {
		return nil, err
	}
	if e.ID, err = strconv.ParseUint(id, 10, 64); err != nil {
		return nil, err
	}
	if e.TotalAmount, err = strconv.ParseUint(total, 10, 64); err != nil {
		return nil, err
	}
	if e.StorageDeposit, err = strconv.ParseUint(deposit, 10, 64); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(splits, &e.Splits); err != nil {
		return nil, fmt.Errorf("decode splits: %w", err)
	}
	e.State = models.EscrowState(state)
	e.Deadline = nullTime(deadline)
	e.FundedAt = nullTime(funded)
	e.ApprovedAt = nullTime(approved)
	e.SettledAt = nullTime(settled)
	e.RefundedAt = nullTime(refunded)
	e.FrozenAt = nullTime(frozen)
	e.ClosedAt = nullTime(closed)
	return &e, nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}
