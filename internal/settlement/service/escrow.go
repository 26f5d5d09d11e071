package service

import (
	"context"
	"errors"
	"math/bits"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/ports"
	"splitvault/internal/settlement/split"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	audit "splitvault/pkg/platform/audit"
	"splitvault/pkg/platform/sentinel"
	"splitvault/pkg/requestcontext"
)

// CreateEscrowRequest carries the creation parameters; the payer is the caller.
type CreateEscrowRequest struct {
	ID          uint64
	Splits      []split.Split
	TotalAmount uint64
	Deadline    *time.Time
}

// escrowStep checks and applies one transition to a loaded escrow, moving
// value on the ledger when the transition requires it. It returns the
// amount moved.
type escrowStep func(ctx context.Context, e *models.Escrow) (uint64, error)

// Create registers a new escrow in Created. The storage deposit, when
// configured, moves from the payer into the record's deposit account.
func (s *Service) Create(ctx context.Context, caller domain.Identity, req CreateEscrowRequest) (*models.Escrow, error) {
	address := domain.EscrowAddress(caller, req.ID)
	ctx, span := s.tracer.Start(ctx, "settlement.Create",
		trace.WithAttributes(attribute.String("escrow.address", address.String())))
	defer span.End()
	done := s.observe("create")

	var out *models.Escrow
	err := s.tx.RunInTx(ctx, escrowKey(address), func(ctx context.Context) error {
		if err := s.requireUnpaused(ctx); err != nil {
			return err
		}
		e, err := models.NewEscrow(caller, req.ID, req.Splits, req.TotalAmount, req.Deadline, s.storageDeposit, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if _, err := s.escrows.FindByAddress(ctx, address); err == nil {
			return models.ErrEscrowExists
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load escrow")
		}
		if e.StorageDeposit > 0 {
			if err := s.ledger.Transfer(ctx, caller, domain.DepositAccount(address), e.StorageDeposit); err != nil {
				return translateLedger(err)
			}
		}
		if err := s.emit(ctx, audit.EventEscrowCreated, address, caller, 0); err != nil {
			return err
		}
		if err := s.escrows.Create(ctx, e); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return models.ErrEscrowExists
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save escrow")
		}
		out = e
		return nil
	})
	done(err)
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.metrics.IncTransition("escrow", "create")
	s.logAudit(ctx, audit.EventEscrowCreated,
		"escrow", address.String(),
		"payer", caller.String(),
		"total_amount", out.TotalAmount,
		"recipients", len(out.Splits),
	)
	return out, nil
}

// Fund moves the escrow total from the payer into custody.
func (s *Service) Fund(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error) {
	return s.runEscrow(ctx, "fund", audit.EventEscrowFunded, caller, address, func(ctx context.Context, e *models.Escrow) (uint64, error) {
		if err := e.CanFund(caller); err != nil {
			return 0, err
		}
		if err := s.ledger.Transfer(ctx, caller, e.Custody(), e.TotalAmount); err != nil {
			return 0, translateLedger(err)
		}
		e.ApplyFund(requestcontext.Now(ctx))
		return e.TotalAmount, nil
	})
}

// Approve records the payer's satisfaction. No funds move.
func (s *Service) Approve(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error) {
	return s.runEscrow(ctx, "approve", audit.EventEscrowApproved, caller, address, func(ctx context.Context, e *models.Escrow) (uint64, error) {
		if err := e.CanApprove(caller); err != nil {
			return 0, err
		}
		e.ApplyApprove(requestcontext.Now(ctx))
		return 0, nil
	})
}

// Settle pays every recipient its computed share in one atomic batch.
// destinations must list the plan's recipients in plan order.
func (s *Service) Settle(ctx context.Context, caller, address domain.Identity, destinations []domain.Identity) (*models.Escrow, error) {
	return s.runEscrow(ctx, "settle", audit.EventEscrowSettled, caller, address, func(ctx context.Context, e *models.Escrow) (uint64, error) {
		if err := e.CanSettle(caller, destinations); err != nil {
			return 0, err
		}
		if err := s.payOut(ctx, e.Custody(), e.TotalAmount, e.Splits, destinations); err != nil {
			return 0, err
		}
		e.ApplySettle(requestcontext.Now(ctx))
		return e.TotalAmount, nil
	})
}

// Refund returns the total to the payer once the deadline has been reached.
// Any caller may trigger it.
func (s *Service) Refund(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error) {
	return s.runEscrow(ctx, "refund", audit.EventEscrowRefunded, caller, address, func(ctx context.Context, e *models.Escrow) (uint64, error) {
		now := requestcontext.Now(ctx)
		if err := e.CanRefund(now); err != nil {
			return 0, err
		}
		if err := s.ledger.Transfer(ctx, e.Custody(), e.Payer, e.TotalAmount); err != nil {
			return 0, translateLedger(err)
		}
		e.ApplyRefund(now)
		return e.TotalAmount, nil
	})
}

// Cancel abandons an escrow that was never funded.
func (s *Service) Cancel(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error) {
	return s.runEscrow(ctx, "cancel", audit.EventEscrowCancelled, caller, address, func(_ context.Context, e *models.Escrow) (uint64, error) {
		if err := e.CanCancel(caller); err != nil {
			return 0, err
		}
		e.ApplyCancel()
		return 0, nil
	})
}

// Freeze halts a funded escrow pending an admin decision.
func (s *Service) Freeze(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error) {
	return s.runEscrow(ctx, "freeze", audit.EventEscrowFrozen, caller, address, func(ctx context.Context, e *models.Escrow) (uint64, error) {
		cfg, err := s.config.Get(ctx)
		if err != nil {
			return 0, err
		}
		if err := e.CanFreeze(caller, cfg.Admin); err != nil {
			return 0, err
		}
		e.ApplyFreeze(requestcontext.Now(ctx))
		return 0, nil
	})
}

// Close deletes a terminal escrow whose custody is empty and returns the
// storage deposit to the payer.
func (s *Service) Close(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error) {
	return s.runEscrow(ctx, "close", audit.EventEscrowClosed, caller, address, func(ctx context.Context, e *models.Escrow) (uint64, error) {
		if err := e.CanClose(caller); err != nil {
			return 0, err
		}
		// Residual custody goes back to the payer along with the deposit.
		held, err := s.ledger.Balance(ctx, e.Custody())
		if err != nil {
			return 0, translateLedger(err)
		}
		moved, carry := bits.Add64(held, e.StorageDeposit, 0)
		if carry != 0 {
			return 0, models.ErrArithmeticOverflow
		}
		if held > 0 {
			if err := s.ledger.Transfer(ctx, e.Custody(), e.Payer, held); err != nil {
				return 0, translateLedger(err)
			}
		}
		if e.StorageDeposit > 0 {
			if err := s.ledger.Transfer(ctx, domain.DepositAccount(e.Address), e.Payer, e.StorageDeposit); err != nil {
				return 0, translateLedger(err)
			}
		}
		e.ApplyClose(requestcontext.Now(ctx))
		return moved, nil
	})
}

// Get returns the escrow at address.
func (s *Service) Get(ctx context.Context, address domain.Identity) (*models.Escrow, error) {
	return s.loadEscrow(ctx, address)
}

// ListByPayer returns every open escrow created by payer.
func (s *Service) ListByPayer(ctx context.Context, payer domain.Identity) ([]*models.Escrow, error) {
	list, err := s.escrows.ListByPayer(ctx, payer)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list escrows")
	}
	return list, nil
}

// payOut computes the plan's amounts and pays them from source to the
// matching destinations in plan order. Zero amounts are skipped by the ledger.
func (s *Service) payOut(ctx context.Context, source domain.Identity, total uint64, plan []split.Split, destinations []domain.Identity) error {
	amounts, err := split.Compute(total, plan)
	if err != nil {
		return err
	}
	payouts := make([]ports.Payout, len(amounts))
	for i, amount := range amounts {
		payouts[i] = ports.Payout{To: destinations[i], Amount: amount}
	}
	return translateLedger(s.ledger.TransferBatch(ctx, source, payouts))
}

func (s *Service) loadEscrow(ctx context.Context, address domain.Identity) (*models.Escrow, error) {
	e, err := s.escrows.FindByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.ErrEscrowNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load escrow")
	}
	return e, nil
}

// runEscrow loads the escrow under its record lock and applies step. The
// audit event is written before the record so a failed audit leaves no
// write behind. A closed escrow is deleted instead of updated.
func (s *Service) runEscrow(ctx context.Context, operation string, event audit.AuditEvent, caller, address domain.Identity, step escrowStep) (*models.Escrow, error) {
	ctx, span := s.tracer.Start(ctx, "settlement."+operation,
		trace.WithAttributes(attribute.String("escrow.address", address.String())))
	defer span.End()
	done := s.observe(operation)

	var (
		out   *models.Escrow
		moved uint64
	)
	err := s.tx.RunInTx(ctx, escrowKey(address), func(ctx context.Context) error {
		e, err := s.loadEscrow(ctx, address)
		if err != nil {
			return err
		}
		if moved, err = step(ctx, e); err != nil {
			return err
		}
		if err := s.emit(ctx, event, address, caller, moved); err != nil {
			return err
		}
		if e.State == models.EscrowClosed {
			err = s.escrows.Delete(ctx, address)
		} else {
			err = s.escrows.Update(ctx, e)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save escrow")
		}
		out = e
		return nil
	})
	done(err)
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.metrics.IncTransition("escrow", operation)
	s.metrics.AddValueMoved(operation, moved)
	s.logAudit(ctx, event,
		"escrow", address.String(),
		"caller", caller.String(),
		"state", string(out.State),
		"amount", moved,
	)
	return out, nil
}
