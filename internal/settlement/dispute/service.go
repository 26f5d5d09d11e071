// Package dispute resolves frozen escrows. Only the platform admin may act,
// and only on an escrow in Frozen.
package dispute

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pcmodels "splitvault/internal/platformconfig/models"
	"splitvault/internal/settlement/metrics"
	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/ports"
	"splitvault/internal/settlement/split"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	audit "splitvault/pkg/platform/audit"
	"splitvault/pkg/platform/sentinel"
	"splitvault/pkg/requestcontext"
)

type EscrowStore interface {
	FindByAddress(ctx context.Context, address domain.Identity) (*models.Escrow, error)
	Update(ctx context.Context, e *models.Escrow) error
}

type ConfigReader interface {
	Get(ctx context.Context) (*pcmodels.PlatformConfig, error)
}

type Service struct {
	escrows        EscrowStore
	config         ConfigReader
	ledger         ports.Ledger
	tx             ports.TxRunner
	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(escrows EscrowStore, config ConfigReader, ledger ports.Ledger, tx ports.TxRunner, opts ...Option) (*Service, error) {
	if escrows == nil {
		return nil, errors.New("escrow store is required")
	}
	if config == nil {
		return nil, errors.New("platform config reader is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if tx == nil {
		return nil, errors.New("tx runner is required")
	}
	s := &Service{
		escrows: escrows,
		config:  config,
		ledger:  ledger,
		tx:      tx,
		logger:  slog.Default(),
		tracer:  otel.Tracer("splitvault/dispute"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AdminRefundToPayer returns the whole custody balance to the payer.
func (s *Service) AdminRefundToPayer(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error) {
	return s.resolve(ctx, "admin_refund", audit.EventEscrowAdminRefunded, caller, address, func(ctx context.Context, e *models.Escrow, held uint64) error {
		if held > 0 {
			if err := s.ledger.Transfer(ctx, e.Custody(), e.Payer, held); err != nil {
				return translateLedger(err)
			}
		}
		e.ApplyAdminRefund(requestcontext.Now(ctx))
		return nil
	})
}

// AdminSettleWithSplits distributes the custody balance by an override plan.
// Destinations are checked against the override plan the same way Settle
// checks them; nil destinations mean the override recipients in order.
func (s *Service) AdminSettleWithSplits(ctx context.Context, caller, address domain.Identity, override []split.Split, destinations []domain.Identity) (*models.Escrow, error) {
	return s.resolve(ctx, "admin_settle", audit.EventEscrowAdminSettled, caller, address, func(ctx context.Context, e *models.Escrow, held uint64) error {
		if err := split.Validate(override); err != nil {
			return models.InvalidSplits(err)
		}
		if destinations == nil {
			destinations = make([]domain.Identity, len(override))
			for i, sp := range override {
				destinations[i] = sp.Recipient
			}
		}
		if err := models.CheckDestinations(override, destinations, e.Custody()); err != nil {
			return err
		}
		if held == 0 {
			return models.ErrInsufficientFunds
		}
		amounts, err := split.Compute(held, override)
		if err != nil {
			return err
		}
		payouts := make([]ports.Payout, len(amounts))
		for i, amount := range amounts {
			payouts[i] = ports.Payout{To: destinations[i], Amount: amount}
		}
		if err := s.ledger.TransferBatch(ctx, e.Custody(), payouts); err != nil {
			return translateLedger(err)
		}
		e.ApplyAdminSettle(requestcontext.Now(ctx))
		return nil
	})
}

// resolve checks admin authority and the Frozen state, reads the custody
// balance, and hands both to apply under the escrow lock.
func (s *Service) resolve(ctx context.Context, operation string, event audit.AuditEvent, caller, address domain.Identity, apply func(ctx context.Context, e *models.Escrow, held uint64) error) (*models.Escrow, error) {
	ctx, span := s.tracer.Start(ctx, "dispute."+operation,
		trace.WithAttributes(attribute.String("escrow.address", address.String())))
	defer span.End()

	var (
		out  *models.Escrow
		held uint64
	)
	err := s.tx.RunInTx(ctx, "escrow:"+address.String(), func(ctx context.Context) error {
		if err := s.requireAdmin(ctx, caller); err != nil {
			return err
		}
		e, err := s.escrows.FindByAddress(ctx, address)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return models.ErrEscrowNotFound
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load escrow")
		}
		if err := e.CanResolve(); err != nil {
			return err
		}
		if held, err = s.ledger.Balance(ctx, e.Custody()); err != nil {
			return translateLedger(err)
		}
		if err := apply(ctx, e, held); err != nil {
			return err
		}
		if s.auditPublisher != nil {
			if err := s.auditPublisher.Emit(ctx, audit.Event{
				Action:  string(event),
				Subject: address.String(),
				ActorID: caller.String(),
				Amount:  held,
			}); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
			}
		}
		if err := s.escrows.Update(ctx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save escrow")
		}
		out = e
		return nil
	})
	if err != nil {
		s.metrics.IncFailure(operation, string(dErrors.CodeOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.IncTransition("escrow", operation)
	s.metrics.AddValueMoved(operation, held)
	s.logAudit(ctx, event, "escrow", address.String(), "admin", caller.String(), "amount", held)
	return out, nil
}

func (s *Service) requireAdmin(ctx context.Context, caller domain.Identity) error {
	if caller.IsZero() {
		return models.ErrMissingCaller
	}
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return err
	}
	if !cfg.IsAdmin(caller) {
		return models.ErrNotAdmin
	}
	return nil
}

func translateLedger(err error) error {
	switch {
	case errors.Is(err, ports.ErrInsufficientFunds):
		return models.ErrInsufficientFunds
	case errors.Is(err, ports.ErrBalanceOverflow):
		return models.ErrArithmeticOverflow
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger transfer failed")
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)
}
