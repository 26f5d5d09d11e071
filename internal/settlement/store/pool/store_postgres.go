package pool

import (
	"context"
	"database/sql"
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

func (s *PostgresStore) Create(ctx context.Context, p *models.Pool) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO pools (address, pool_id, payer, release_authority, payment_per_release,
			max_releases, fee_bps, released_count, total_released, funded_amount, state, deadline,
			schema_version, created_at, funded_at, closed_at)
		VALUES ($1, $2::numeric, $3, $4, $5::numeric, $6, $7, $8, $9::numeric, $10::numeric, $11, $12,
			$13, $14, $15, $16)
	`,
		p.Address.String(), strconv.FormatUint(p.ID, 10), p.Payer.String(), p.ReleaseAuthority.String(),
		strconv.FormatUint(p.PaymentPerRelease, 10), int64(p.MaxReleases), int64(p.FeeBPS),
		int64(p.ReleasedCount), strconv.FormatUint(p.TotalReleased, 10),
		strconv.FormatUint(p.FundedAmount, 10), string(p.State), p.Deadline, p.SchemaVersion,
		p.CreatedAt, p.FundedAt, p.ClosedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByAddress(ctx context.Context, address domain.Identity) (*models.Pool, error) {
	var (
		p                             models.Pool
		addr, payer, authority, state string
		id, payment, funded, released string
		maxReleases, releasedCount    int64
		feeBPS                        int64
		deadline, fundedAt, closedAt  sql.NullTime
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT address, pool_id::text, payer, release_authority, payment_per_release::text,
			max_releases, fee_bps, released_count, total_released::text, funded_amount::text, state,
			deadline, schema_version, created_at, funded_at, closed_at
		FROM pools WHERE address = $1
	`, address.String()).Scan(&addr, &id, &payer, &authority, &payment,
		&maxReleases, &feeBPS, &releasedCount, &released, &funded, &state,
		&deadline, &p.SchemaVersion, &p.CreatedAt, &fundedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find pool: %w", err)
	}

	if p.Address, err = domain.ParseIdentity(addr); err != nil {
		return nil, fmt.Errorf("parse pool address: %w", err)
	}
	if p.Payer, err = domain.ParseIdentity(payer); err != nil {
		return nil, fmt.Errorf("parse pool payer: %w", err)
	}
	if p.ReleaseAuthority, err = domain.ParseIdentity(authority); err != nil {
		return nil, fmt.Errorf("parse release authority: %w", err)
	}
	if p.ID, err = strconv.ParseUint(id, 10, 64); err != nil {
		return nil, fmt.Errorf("parse pool id: %w", err)
	}
	if p.PaymentPerRelease, err = strconv.ParseUint(payment, 10, 64); err != nil {
		return nil, fmt.Errorf("parse payment per release: %w", err)
	}
	if p.FundedAmount, err = strconv.ParseUint(funded, 10, 64); err != nil {
		return nil, fmt.Errorf("parse funded amount: %w", err)
	}
	if p.TotalReleased, err = strconv.ParseUint(released, 10, 64); err != nil {
		return nil, fmt.Errorf("parse total released: %w", err)
	}
	p.MaxReleases = uint32(maxReleases)
	p.FeeBPS = uint16(feeBPS)
	p.ReleasedCount = uint32(releasedCount)
	p.State = models.PoolState(state)
	p.Deadline = nullTime(deadline)
	p.FundedAt = nullTime(fundedAt)
	p.ClosedAt = nullTime(closedAt)
	return &p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *models.Pool) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE pools
		SET released_count = $2, total_released = $3::numeric, funded_amount = $4::numeric,
			state = $5, funded_at = $6, closed_at = $7
		WHERE address = $1
	`, p.Address.String(), int64(p.ReleasedCount), strconv.FormatUint(p.TotalReleased, 10),
		strconv.FormatUint(p.FundedAmount, 10), string(p.State), p.FundedAt, p.ClosedAt)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	return requireRow(res, "update pool")
}

func (s *PostgresStore) Delete(ctx context.Context, address domain.Identity) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`DELETE FROM pools WHERE address = $1`, address.String())
	if err != nil {
		return fmt.Errorf("delete pool: %w", err)
	}
	return requireRow(res, "delete pool")
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
