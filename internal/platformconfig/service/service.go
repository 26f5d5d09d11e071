// Package service owns the platform configuration lifecycle: one-time
// initialization, admin-gated updates and the two-step admin transfer.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"splitvault/internal/platformconfig/models"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	audit "splitvault/pkg/platform/audit"
	"splitvault/pkg/platform/sentinel"
	"splitvault/pkg/requestcontext"
)

type Store interface {
	Get(ctx context.Context) (*models.PlatformConfig, error)
	Create(ctx context.Context, cfg *models.PlatformConfig) error
	Save(ctx context.Context, cfg *models.PlatformConfig) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// UpdateRequest carries the mutable fields; nil leaves a field unchanged.
type UpdateRequest struct {
	Treasury *domain.Identity
	Paused   *bool
}

type Service struct {
	store          Store
	tx             TxRunner
	logger         *slog.Logger
	auditPublisher AuditPublisher
	tracer         trace.Tracer
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

func New(store Store, tx TxRunner, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("platform config store is required")
	}
	if tx == nil {
		return nil, errors.New("tx runner is required")
	}
	s := &Service{
		store:  store,
		tx:     tx,
		logger: slog.Default(),
		tracer: otel.Tracer("splitvault/platformconfig"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the current configuration, or ErrNotInitialized.
func (s *Service) Get(ctx context.Context) (*models.PlatformConfig, error) {
	cfg, err := s.store.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.ErrNotInitialized
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load platform config")
	}
	return cfg, nil
}

// Initialize creates the configuration once; the caller becomes admin.
func (s *Service) Initialize(ctx context.Context, caller, treasury domain.Identity) (*models.PlatformConfig, error) {
	ctx, span := s.tracer.Start(ctx, "platformconfig.Initialize")
	defer span.End()

	var out *models.PlatformConfig
	err := s.tx.RunInTx(ctx, models.LockKey, func(ctx context.Context) error {
		cfg, err := models.New(caller, treasury, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if _, err := s.store.Get(ctx); err == nil {
			return models.ErrAlreadyInitialized
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load platform config")
		}
		if err := s.emit(ctx, audit.EventPlatformInitialized, caller); err != nil {
			return err
		}
		if err := s.store.Create(ctx, cfg); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return models.ErrAlreadyInitialized
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save platform config")
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logAudit(ctx, audit.EventPlatformInitialized, "admin", caller.String(), "treasury", treasury.String())
	return out, nil
}

func (s *Service) Update(ctx context.Context, caller domain.Identity, req UpdateRequest) (*models.PlatformConfig, error) {
	ctx, span := s.tracer.Start(ctx, "platformconfig.Update")
	defer span.End()

	cfg, err := s.mutate(ctx, audit.EventPlatformUpdated, caller, func(ctx context.Context, cfg *models.PlatformConfig) (bool, error) {
		if err := cfg.CanAdminister(caller); err != nil {
			return false, err
		}
		return true, cfg.ApplyUpdate(req.Treasury, req.Paused, requestcontext.Now(ctx))
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logAudit(ctx, audit.EventPlatformUpdated, "admin", caller.String(), "paused", cfg.Paused)
	return cfg, nil
}

// ProposeAdmin records a pending admin; a later proposal replaces it.
func (s *Service) ProposeAdmin(ctx context.Context, caller, newAdmin domain.Identity) (*models.PlatformConfig, error) {
	ctx, span := s.tracer.Start(ctx, "platformconfig.ProposeAdmin",
		trace.WithAttributes(attribute.String("pending_admin", newAdmin.String())))
	defer span.End()

	cfg, err := s.mutate(ctx, audit.EventAdminProposed, caller, func(ctx context.Context, cfg *models.PlatformConfig) (bool, error) {
		if err := cfg.CanAdminister(caller); err != nil {
			return false, err
		}
		return true, cfg.ApplyPropose(newAdmin, requestcontext.Now(ctx))
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logAudit(ctx, audit.EventAdminProposed, "admin", caller.String(), "pending_admin", newAdmin.String())
	return cfg, nil
}

// AcceptAdmin completes the transfer; only the pending admin may call it.
func (s *Service) AcceptAdmin(ctx context.Context, caller domain.Identity) (*models.PlatformConfig, error) {
	ctx, span := s.tracer.Start(ctx, "platformconfig.AcceptAdmin")
	defer span.End()

	cfg, err := s.mutate(ctx, audit.EventAdminAccepted, caller, func(ctx context.Context, cfg *models.PlatformConfig) (bool, error) {
		if err := cfg.CanAccept(caller); err != nil {
			return false, err
		}
		cfg.ApplyAccept(requestcontext.Now(ctx))
		return true, nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.logAudit(ctx, audit.EventAdminAccepted, "admin", caller.String())
	return cfg, nil
}

// CancelAdminTransfer clears a pending transfer. With nothing pending it
// succeeds without writing.
func (s *Service) CancelAdminTransfer(ctx context.Context, caller domain.Identity) (*models.PlatformConfig, error) {
	ctx, span := s.tracer.Start(ctx, "platformconfig.CancelAdminTransfer")
	defer span.End()

	cfg, err := s.mutate(ctx, audit.EventAdminTransferCanceled, caller, func(ctx context.Context, cfg *models.PlatformConfig) (bool, error) {
		if err := cfg.CanAdminister(caller); err != nil {
			return false, err
		}
		return cfg.ApplyCancelTransfer(requestcontext.Now(ctx)), nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	return cfg, nil
}

// mutate loads, applies fn, and audits then persists only when fn reports a
// change. The event is written first so a failed audit leaves no write
// behind on backends without rollback.
func (s *Service) mutate(ctx context.Context, event audit.AuditEvent, caller domain.Identity, fn func(ctx context.Context, cfg *models.PlatformConfig) (bool, error)) (*models.PlatformConfig, error) {
	var out *models.PlatformConfig
	err := s.tx.RunInTx(ctx, models.LockKey, func(ctx context.Context) error {
		cfg, err := s.Get(ctx)
		if err != nil {
			return err
		}
		changed, err := fn(ctx, cfg)
		if err != nil {
			return err
		}
		if changed {
			if err := s.emit(ctx, event, caller); err != nil {
				return err
			}
			if err := s.store.Save(ctx, cfg); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save platform config")
			}
		}
		out = cfg
		return nil
	})
	return out, err
}

func (s *Service) emit(ctx context.Context, event audit.AuditEvent, actor domain.Identity) error {
	if s.auditPublisher == nil {
		return nil
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:  string(event),
		Subject: models.LockKey,
		ActorID: actor.String(),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
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
