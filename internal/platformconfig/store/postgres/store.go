// Package postgres persists the platform configuration as a single row.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"splitvault/internal/platformconfig/models"
	"splitvault/pkg/domain"
	"splitvault/pkg/platform/sentinel"
	txcontext "splitvault/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context) (*models.PlatformConfig, error) {
	var (
		admin, treasury string
		pending         sql.NullString
		cfg             models.PlatformConfig
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT admin, treasury, paused, pending_admin, updated_at
		FROM platform_config WHERE id = 1
	`).Scan(&admin, &treasury, &cfg.Paused, &pending, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find platform config: %w", err)
	}
	if cfg.Admin, err = domain.ParseIdentity(admin); err != nil {
		return nil, fmt.Errorf("parse admin: %w", err)
	}
	if cfg.Treasury, err = domain.ParseIdentity(treasury); err != nil {
		return nil, fmt.Errorf("parse treasury: %w", err)
	}
	if pending.Valid {
		p, err := domain.ParseIdentity(pending.String)
		if err != nil {
			return nil, fmt.Errorf("parse pending admin: %w", err)
		}
		cfg.PendingAdmin = &p
	}
	return &cfg, nil
}

func (s *Store) Create(ctx context.Context, cfg *models.PlatformConfig) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO platform_config (id, admin, treasury, paused, pending_admin, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, cfg.Admin.String(), cfg.Treasury.String(), cfg.Paused, pendingArg(cfg), cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert platform config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert platform config: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) Save(ctx context.Context, cfg *models.PlatformConfig) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE platform_config
		SET admin = $1, treasury = $2, paused = $3, pending_admin = $4, updated_at = $5
		WHERE id = 1
	`, cfg.Admin.String(), cfg.Treasury.String(), cfg.Paused, pendingArg(cfg), cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update platform config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update platform config: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func pendingArg(cfg *models.PlatformConfig) sql.NullString {
	if cfg.PendingAdmin == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: cfg.PendingAdmin.String(), Valid: true}
}
