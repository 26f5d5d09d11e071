// Package handler exposes escrow, pool, dispute and quote operations over
// HTTP. Identities travel as hex; amounts as integers in base units with a
// decimal *_display companion.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/service"
	"splitvault/internal/settlement/split"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	"splitvault/pkg/platform/httputil"
	"splitvault/pkg/requestcontext"
)

// Service defines the escrow and pool operations the handler exposes.
type Service interface {
	Create(ctx context.Context, caller domain.Identity, req service.CreateEscrowRequest) (*models.Escrow, error)
	Fund(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error)
	Approve(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error)
	Settle(ctx context.Context, caller, address domain.Identity, destinations []domain.Identity) (*models.Escrow, error)
	Refund(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error)
	Cancel(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error)
	Freeze(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error)
	Close(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error)
	Get(ctx context.Context, address domain.Identity) (*models.Escrow, error)
	ListByPayer(ctx context.Context, payer domain.Identity) ([]*models.Escrow, error)

	CreatePool(ctx context.Context, caller domain.Identity, req service.CreatePoolRequest) (*models.Pool, error)
	FundPool(ctx context.Context, caller, address domain.Identity, amount uint64) (*models.Pool, error)
	PartialRelease(ctx context.Context, caller, address, destination domain.Identity) (*models.Pool, error)
	ClosePool(ctx context.Context, caller, address domain.Identity) (*models.Pool, error)
	GetPool(ctx context.Context, address domain.Identity) (*models.Pool, error)

	Balances(ctx context.Context, accounts []domain.Identity) (map[domain.Identity]uint64, error)
}

// Disputes defines the admin resolution operations.
type Disputes interface {
	AdminRefundToPayer(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error)
	AdminSettleWithSplits(ctx context.Context, caller, address domain.Identity, override []split.Split, destinations []domain.Identity) (*models.Escrow, error)
}

type Handler struct {
	svc       Service
	disputes  Disputes
	logger    *slog.Logger
	auth      func(http.Handler) http.Handler
	rateLimit func(http.Handler) http.Handler
	amounts   amountFormat
}

type Option func(*Handler)

// WithAmountDecimals sets how many decimal places *_display fields render.
func WithAmountDecimals(decimals int32) Option {
	return func(h *Handler) {
		if decimals >= 0 {
			h.amounts = amountFormat{decimals: decimals}
		}
	}
}

// WithRateLimit guards every mutating route with mw, applied after auth so
// it can bucket by caller.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.rateLimit = mw
	}
}

// New creates the handler. auth guards every mutating route; nil leaves the
// routes open, which tests use together with testutil.WithCaller.
func New(svc Service, disputes Disputes, logger *slog.Logger, auth func(http.Handler) http.Handler, opts ...Option) *Handler {
	h := &Handler{
		svc:      svc,
		disputes: disputes,
		logger:   logger,
		auth:     auth,
		amounts:  amountFormat{decimals: defaultAmountDecimals},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/escrows", h.handleListEscrows)
	r.Get("/escrows/{address}", h.handleGetEscrow)
	r.Get("/pools/{address}", h.handleGetPool)
	r.Get("/accounts/balances", h.handleBalances)
	r.Post("/splits/quote", h.handleQuote)

	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth)
		}
		if h.rateLimit != nil {
			r.Use(h.rateLimit)
		}
		r.Post("/escrows", h.handleCreateEscrow)
		r.Post("/escrows/{address}/fund", h.escrowAction("fund escrow", h.svc.Fund))
		r.Post("/escrows/{address}/approve", h.escrowAction("approve escrow", h.svc.Approve))
		r.Post("/escrows/{address}/settle", h.handleSettle)
		r.Post("/escrows/{address}/refund", h.escrowAction("refund escrow", h.svc.Refund))
		r.Post("/escrows/{address}/cancel", h.escrowAction("cancel escrow", h.svc.Cancel))
		r.Post("/escrows/{address}/freeze", h.escrowAction("freeze escrow", h.svc.Freeze))
		r.Post("/escrows/{address}/close", h.escrowAction("close escrow", h.svc.Close))

		r.Post("/admin/escrows/{address}/refund", h.escrowAction("admin refund", h.disputes.AdminRefundToPayer))
		r.Post("/admin/escrows/{address}/settle", h.handleAdminSettle)

		r.Post("/pools", h.handleCreatePool)
		r.Post("/pools/{address}/fund", h.handleFundPool)
		r.Post("/pools/{address}/release", h.handleRelease)
		r.Post("/pools/{address}/close", h.handleClosePool)
	})
}

func addressParam(r *http.Request) (domain.Identity, error) {
	return domain.ParseIdentity(chi.URLParam(r, "address"))
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed", "error", err, "request_id", requestcontext.RequestID(ctx))
	} else {
		h.logger.WarnContext(ctx, op+" rejected", "error", err, "request_id", requestcontext.RequestID(ctx))
	}
	httputil.WriteError(w, err)
}
