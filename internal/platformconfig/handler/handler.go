package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"splitvault/internal/platformconfig/models"
	"splitvault/internal/platformconfig/service"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	"splitvault/pkg/platform/httputil"
	"splitvault/pkg/requestcontext"
)

// Service defines the platform configuration operations the handler exposes.
type Service interface {
	Get(ctx context.Context) (*models.PlatformConfig, error)
	Initialize(ctx context.Context, caller, treasury domain.Identity) (*models.PlatformConfig, error)
	Update(ctx context.Context, caller domain.Identity, req service.UpdateRequest) (*models.PlatformConfig, error)
	ProposeAdmin(ctx context.Context, caller, newAdmin domain.Identity) (*models.PlatformConfig, error)
	AcceptAdmin(ctx context.Context, caller domain.Identity) (*models.PlatformConfig, error)
	CancelAdminTransfer(ctx context.Context, caller domain.Identity) (*models.PlatformConfig, error)
}

type Handler struct {
	svc    Service
	logger *slog.Logger
	auth   func(http.Handler) http.Handler
}

// New creates the handler. auth guards every mutating route; nil leaves the
// routes open, which tests use together with testutil.WithCaller.
func New(svc Service, logger *slog.Logger, auth func(http.Handler) http.Handler) *Handler {
	return &Handler{svc: svc, logger: logger, auth: auth}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/platform/config", h.handleGet)
	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth)
		}
		r.Post("/platform/config", h.handleInitialize)
		r.Patch("/platform/config", h.handleUpdate)
		r.Post("/platform/admin/propose", h.handlePropose)
		r.Post("/platform/admin/accept", h.handleAccept)
		r.Post("/platform/admin/cancel", h.handleCancel)
	})
}

type configResponse struct {
	Admin        string    `json:"admin"`
	Treasury     string    `json:"treasury"`
	Paused       bool      `json:"paused"`
	PendingAdmin *string   `json:"pending_admin,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toResponse(cfg *models.PlatformConfig) configResponse {
	resp := configResponse{
		Admin:     cfg.Admin.String(),
		Treasury:  cfg.Treasury.String(),
		Paused:    cfg.Paused,
		UpdatedAt: cfg.UpdatedAt,
	}
	if cfg.PendingAdmin != nil {
		p := cfg.PendingAdmin.String()
		resp.PendingAdmin = &p
	}
	return resp
}

type initializeRequest struct {
	Treasury domain.Identity `json:"treasury"`
}

func (r *initializeRequest) Validate() error {
	if r.Treasury.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "treasury is required")
	}
	return nil
}

type updateRequest struct {
	Treasury *domain.Identity `json:"treasury,omitempty"`
	Paused   *bool            `json:"paused,omitempty"`
}

func (r *updateRequest) Validate() error {
	if r.Treasury == nil && r.Paused == nil {
		return dErrors.New(dErrors.CodeValidation, "at least one of treasury or paused is required")
	}
	return nil
}

type proposeRequest struct {
	NewAdmin domain.Identity `json:"new_admin"`
}

func (r *proposeRequest) Validate() error {
	if r.NewAdmin.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "new_admin is required")
	}
	return nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Get(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "get platform config", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(cfg))
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeAndValidate[initializeRequest](r)
	if err != nil {
		h.writeError(ctx, w, "initialize platform", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	cfg, err := h.svc.Initialize(ctx, caller, req.Treasury)
	if err != nil {
		h.writeError(ctx, w, "initialize platform", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(cfg))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeAndValidate[updateRequest](r)
	if err != nil {
		h.writeError(ctx, w, "update platform", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	cfg, err := h.svc.Update(ctx, caller, service.UpdateRequest{Treasury: req.Treasury, Paused: req.Paused})
	if err != nil {
		h.writeError(ctx, w, "update platform", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(cfg))
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeAndValidate[proposeRequest](r)
	if err != nil {
		h.writeError(ctx, w, "propose admin", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	cfg, err := h.svc.ProposeAdmin(ctx, caller, req.NewAdmin)
	if err != nil {
		h.writeError(ctx, w, "propose admin", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(cfg))
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := requestcontext.Caller(ctx)
	cfg, err := h.svc.AcceptAdmin(ctx, caller)
	if err != nil {
		h.writeError(ctx, w, "accept admin", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(cfg))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, _ := requestcontext.Caller(ctx)
	cfg, err := h.svc.CancelAdminTransfer(ctx, caller)
	if err != nil {
		h.writeError(ctx, w, "cancel admin transfer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(cfg))
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed", "error", err, "request_id", requestcontext.RequestID(ctx))
	} else {
		h.logger.WarnContext(ctx, op+" rejected", "error", err, "request_id", requestcontext.RequestID(ctx))
	}
	httputil.WriteError(w, err)
}
