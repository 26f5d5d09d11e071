// Package service runs escrow and pool operations: it loads the record under
// its lock, checks the aggregate, moves value on the ledger, audits, and
// persists, all inside one TxRunner call.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pcmodels "splitvault/internal/platformconfig/models"
	"splitvault/internal/settlement/metrics"
	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/ports"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	audit "splitvault/pkg/platform/audit"
	"splitvault/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks EscrowStore,PoolStore,ConfigReader,Ledger,AuditPublisher

type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	FindByAddress(ctx context.Context, address domain.Identity) (*models.Escrow, error)
	Update(ctx context.Context, e *models.Escrow) error
	Delete(ctx context.Context, address domain.Identity) error
	ListByPayer(ctx context.Context, payer domain.Identity) ([]*models.Escrow, error)
}

type PoolStore interface {
	Create(ctx context.Context, p *models.Pool) error
	FindByAddress(ctx context.Context, address domain.Identity) (*models.Pool, error)
	Update(ctx context.Context, p *models.Pool) error
	Delete(ctx context.Context, address domain.Identity) error
}

// ConfigReader yields the platform configuration, or
// pcmodels.ErrNotInitialized before Initialize has run.
type ConfigReader interface {
	Get(ctx context.Context) (*pcmodels.PlatformConfig, error)
}

type Ledger interface {
	ports.Ledger
}

type AuditPublisher interface {
	ports.AuditPublisher
}

// Service owns the escrow and pool lifecycles.
type Service struct {
	escrows          EscrowStore
	pools            PoolStore
	config           ConfigReader
	ledger           Ledger
	tx               ports.TxRunner
	logger           *slog.Logger
	auditPublisher   AuditPublisher
	metrics          *metrics.Metrics
	tracer           trace.Tracer
	storageDeposit   uint64
	allowOverfunding bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithStorageDeposit sets the amount a payer escrows for record storage on
// Create and gets back on Close. Zero disables the deposit.
func WithStorageDeposit(amount uint64) Option {
	return func(s *Service) {
		s.storageDeposit = amount
	}
}

// WithPoolOverfunding lets FundPool accept more than the release product.
func WithPoolOverfunding(allow bool) Option {
	return func(s *Service) {
		s.allowOverfunding = allow
	}
}

func New(escrows EscrowStore, pools PoolStore, config ConfigReader, ledger Ledger, tx ports.TxRunner, opts ...Option) (*Service, error) {
	if escrows == nil {
		return nil, errors.New("escrow store is required")
	}
	if pools == nil {
		return nil, errors.New("pool store is required")
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
		pools:   pools,
		config:  config,
		ledger:  ledger,
		tx:      tx,
		logger:  slog.Default(),
		tracer:  otel.Tracer("splitvault/settlement"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Balances reads ledger balances for display; unknown accounts read as 0.
func (s *Service) Balances(ctx context.Context, accounts []domain.Identity) (map[domain.Identity]uint64, error) {
	out, err := s.ledger.Balances(ctx, accounts)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balances")
	}
	return out, nil
}

func escrowKey(address domain.Identity) string {
	return "escrow:" + address.String()
}

func poolKey(address domain.Identity) string {
	return "pool:" + address.String()
}

// requireUnpaused rejects new records while the platform is paused.
func (s *Service) requireUnpaused(ctx context.Context) error {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return err
	}
	if cfg.Paused {
		return models.ErrPaused
	}
	return nil
}

// translateLedger maps ledger facts onto settlement error kinds.
func translateLedger(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ports.ErrInsufficientFunds):
		return models.ErrInsufficientFunds
	case errors.Is(err, ports.ErrBalanceOverflow):
		return models.ErrArithmeticOverflow
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger transfer failed")
	}
}

func (s *Service) emit(ctx context.Context, event audit.AuditEvent, subject, actor domain.Identity, amount uint64) error {
	if s.auditPublisher == nil {
		return nil
	}
	var actorID string
	if !actor.IsZero() {
		actorID = actor.String()
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:  string(event),
		Subject: subject.String(),
		ActorID: actorID,
		Amount:  amount,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

// observe starts the per-operation timer; call the returned func with the
// operation result.
func (s *Service) observe(operation string) func(err error) {
	start := time.Now()
	return func(err error) {
		s.metrics.ObserveOperation(operation, time.Since(start).Seconds())
		if err != nil {
			s.metrics.IncFailure(operation, string(dErrors.CodeOf(err)))
		}
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	return err
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)
}
