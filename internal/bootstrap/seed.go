// Package bootstrap applies a TOML seed file on first boot: it initializes
// the platform configuration and credits development balances.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BurntSushi/toml"

	"splitvault/internal/platformconfig/models"
	"splitvault/internal/platformconfig/service"
	"splitvault/pkg/domain"
)

// Seed is the decoded seed file.
//
//	admin    = "<hex>"
//	treasury = "<hex>"
//	paused   = false
//
//	[[balances]]
//	account = "<hex>"
//	amount  = 5000000
type Seed struct {
	Admin    domain.Identity
	Treasury domain.Identity
	Paused   *bool
	Balances []Balance
}

type Balance struct {
	Account domain.Identity
	Amount  uint64
}

type fileSeed struct {
	Admin    string        `toml:"admin"`
	Treasury string        `toml:"treasury"`
	Paused   bool          `toml:"paused"`
	Balances []fileBalance `toml:"balances"`
}

type fileBalance struct {
	Account string `toml:"account"`
	Amount  uint64 `toml:"amount"`
}

// Load decodes and validates a seed file.
func Load(path string) (*Seed, error) {
	var raw fileSeed
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load seed file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load seed file: unknown key %q", undecoded[0].String())
	}

	seed := &Seed{}
	if seed.Admin, err = domain.ParseIdentity(raw.Admin); err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	if seed.Treasury, err = domain.ParseIdentity(raw.Treasury); err != nil {
		return nil, fmt.Errorf("seed treasury: %w", err)
	}
	if meta.IsDefined("paused") {
		paused := raw.Paused
		seed.Paused = &paused
	}
	for i, b := range raw.Balances {
		acct, err := domain.ParseIdentity(b.Account)
		if err != nil {
			return nil, fmt.Errorf("seed balances[%d]: %w", i, err)
		}
		seed.Balances = append(seed.Balances, Balance{Account: acct, Amount: b.Amount})
	}
	return seed, nil
}

// PlatformConfig is the subset of the platform config service the seed drives.
type PlatformConfig interface {
	Initialize(ctx context.Context, caller, treasury domain.Identity) (*models.PlatformConfig, error)
	Update(ctx context.Context, caller domain.Identity, req service.UpdateRequest) (*models.PlatformConfig, error)
}

// Crediter mints externally sourced value into a ledger account.
type Crediter interface {
	Credit(ctx context.Context, account domain.Identity, amount uint64) error
}

// Apply initializes the platform and credits balances. When the platform is
// already initialized nothing is applied, so restarts never credit twice.
func (s *Seed) Apply(ctx context.Context, platform PlatformConfig, ledger Crediter, logger *slog.Logger) (bool, error) {
	if _, err := platform.Initialize(ctx, s.Admin, s.Treasury); err != nil {
		if errors.Is(err, models.ErrAlreadyInitialized) {
			logger.InfoContext(ctx, "seed skipped, platform already initialized")
			return false, nil
		}
		return false, fmt.Errorf("seed platform config: %w", err)
	}
	if s.Paused != nil && *s.Paused {
		if _, err := platform.Update(ctx, s.Admin, service.UpdateRequest{Paused: s.Paused}); err != nil {
			return false, fmt.Errorf("seed pause flag: %w", err)
		}
	}
	for _, b := range s.Balances {
		if b.Amount == 0 {
			continue
		}
		if err := ledger.Credit(ctx, b.Account, b.Amount); err != nil {
			return false, fmt.Errorf("seed balance %s: %w", b.Account.Short(), err)
		}
	}
	logger.InfoContext(ctx, "seed applied",
		"admin", s.Admin.String(),
		"balances", len(s.Balances),
	)
	return true, nil
}
