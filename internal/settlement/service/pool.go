package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/ports"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	audit "splitvault/pkg/platform/audit"
	"splitvault/pkg/platform/sentinel"
	"splitvault/pkg/requestcontext"
)

// CreatePoolRequest carries the pool parameters; the payer is the caller.
// FeeBPS is charged on top of every release and paid to the treasury.
type CreatePoolRequest struct {
	ID                uint64
	ReleaseAuthority  domain.Identity
	PaymentPerRelease uint64
	MaxReleases       uint32
	FeeBPS            uint16
	Deadline          *time.Time
}

type poolStep func(ctx context.Context, p *models.Pool) (uint64, error)

// CreatePool registers a pool in Created. No funds move until FundPool.
func (s *Service) CreatePool(ctx context.Context, caller domain.Identity, req CreatePoolRequest) (*models.Pool, error) {
	address := domain.PoolAddress(caller, req.ID)
	ctx, span := s.tracer.Start(ctx, "settlement.CreatePool",
		trace.WithAttributes(attribute.String("pool.address", address.String())))
	defer span.End()
	done := s.observe("create_pool")

	var out *models.Pool
	err := s.tx.RunInTx(ctx, poolKey(address), func(ctx context.Context) error {
		if err := s.requireUnpaused(ctx); err != nil {
			return err
		}
		p, err := models.NewPool(caller, req.ID, req.ReleaseAuthority, req.PaymentPerRelease, req.MaxReleases, req.FeeBPS, req.Deadline, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if _, err := s.pools.FindByAddress(ctx, address); err == nil {
			return models.ErrPoolExists
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pool")
		}
		if err := s.emit(ctx, audit.EventPoolCreated, address, caller, 0); err != nil {
			return err
		}
		if err := s.pools.Create(ctx, p); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return models.ErrPoolExists
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save pool")
		}
		out = p
		return nil
	})
	done(err)
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.metrics.IncTransition("pool", "create_pool")
	s.logAudit(ctx, audit.EventPoolCreated,
		"pool", address.String(),
		"payer", caller.String(),
		"release_authority", out.ReleaseAuthority.String(),
		"payment_per_release", out.PaymentPerRelease,
		"max_releases", out.MaxReleases,
		"fee_bps", out.FeeBPS,
	)
	return out, nil
}

// FundPool deposits into custody. amount 0 means exactly RequiredFunding.
func (s *Service) FundPool(ctx context.Context, caller, address domain.Identity, amount uint64) (*models.Pool, error) {
	return s.runPool(ctx, "fund_pool", audit.EventPoolFunded, caller, address, func(ctx context.Context, p *models.Pool) (uint64, error) {
		if err := p.CanFund(caller); err != nil {
			return 0, err
		}
		deposit, err := p.FundingAmount(amount, s.allowOverfunding)
		if err != nil {
			return 0, err
		}
		if err := s.ledger.Transfer(ctx, caller, p.Custody(), deposit); err != nil {
			return 0, translateLedger(err)
		}
		p.ApplyFund(deposit, requestcontext.Now(ctx))
		return deposit, nil
	})
}

// PartialRelease pays one PaymentPerRelease to destination and, when the
// pool charges a fee, FeePerRelease to the platform treasury in the same
// batch.
func (s *Service) PartialRelease(ctx context.Context, caller, address, destination domain.Identity) (*models.Pool, error) {
	return s.runPool(ctx, "partial_release", audit.EventPoolReleased, caller, address, func(ctx context.Context, p *models.Pool) (uint64, error) {
		if err := p.CanRelease(caller, destination, requestcontext.Now(ctx)); err != nil {
			return 0, err
		}
		cost, err := p.ReleaseCost()
		if err != nil {
			return 0, err
		}
		payouts := []ports.Payout{{To: destination, Amount: p.PaymentPerRelease}}
		if fee := p.FeePerRelease(); fee > 0 {
			cfg, err := s.config.Get(ctx)
			if err != nil {
				return 0, err
			}
			payouts = append(payouts, ports.Payout{To: cfg.Treasury, Amount: fee})
		}
		if err := s.ledger.TransferBatch(ctx, p.Custody(), payouts); err != nil {
			return 0, translateLedger(err)
		}
		p.ApplyRelease()
		s.metrics.IncPoolRelease()
		return cost, nil
	})
}

// ClosePool sweeps the custody balance to the payer and deletes the pool.
// The balance covers Remaining plus anything transferred in from outside.
func (s *Service) ClosePool(ctx context.Context, caller, address domain.Identity) (*models.Pool, error) {
	return s.runPool(ctx, "close_pool", audit.EventPoolClosed, caller, address, func(ctx context.Context, p *models.Pool) (uint64, error) {
		if err := p.CanClose(caller); err != nil {
			return 0, err
		}
		held, err := s.ledger.Balance(ctx, p.Custody())
		if err != nil {
			return 0, translateLedger(err)
		}
		if held > 0 {
			if err := s.ledger.Transfer(ctx, p.Custody(), p.Payer, held); err != nil {
				return 0, translateLedger(err)
			}
		}
		p.ApplyClose(requestcontext.Now(ctx))
		return held, nil
	})
}

// GetPool returns the pool at address.
func (s *Service) GetPool(ctx context.Context, address domain.Identity) (*models.Pool, error) {
	return s.loadPool(ctx, address)
}

func (s *Service) loadPool(ctx context.Context, address domain.Identity) (*models.Pool, error) {
	p, err := s.pools.FindByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.ErrPoolNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pool")
	}
	return p, nil
}

// runPool mirrors runEscrow for pools.
func (s *Service) runPool(ctx context.Context, operation string, event audit.AuditEvent, caller, address domain.Identity, step poolStep) (*models.Pool, error) {
	ctx, span := s.tracer.Start(ctx, "settlement."+operation,
		trace.WithAttributes(attribute.String("pool.address", address.String())))
	defer span.End()
	done := s.observe(operation)

	var (
		out   *models.Pool
		moved uint64
	)
	err := s.tx.RunInTx(ctx, poolKey(address), func(ctx context.Context) error {
		p, err := s.loadPool(ctx, address)
		if err != nil {
			return err
		}
		if moved, err = step(ctx, p); err != nil {
			return err
		}
		if err := s.emit(ctx, event, address, caller, moved); err != nil {
			return err
		}
		if p.State == models.PoolClosed {
			err = s.pools.Delete(ctx, address)
		} else {
			err = s.pools.Update(ctx, p)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save pool")
		}
		out = p
		return nil
	})
	done(err)
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.metrics.IncTransition("pool", operation)
	s.metrics.AddValueMoved(operation, moved)
	s.logAudit(ctx, event,
		"pool", address.String(),
		"caller", caller.String(),
		"state", string(out.State),
		"released_count", out.ReleasedCount,
		"total_released", out.TotalReleased,
		"amount", moved,
	)
	return out, nil
}
