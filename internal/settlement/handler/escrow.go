package handler

import (
	"context"
	"net/http"
	"time"

	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/service"
	"splitvault/internal/settlement/split"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	"splitvault/pkg/platform/httputil"
	"splitvault/pkg/requestcontext"
)

type escrowResponse struct {
	Address            string        `json:"address"`
	ID                 uint64        `json:"id"`
	Payer              string        `json:"payer"`
	Custody            string        `json:"custody"`
	Splits             []split.Split `json:"splits"`
	TotalAmount        uint64        `json:"total_amount"`
	TotalAmountDisplay string        `json:"total_amount_display"`
	State              string        `json:"state"`
	Deadline           *time.Time    `json:"deadline,omitempty"`
	StorageDeposit     uint64        `json:"storage_deposit"`
	SchemaVersion      int           `json:"schema_version"`
	CreatedAt          time.Time     `json:"created_at"`
	FundedAt           *time.Time    `json:"funded_at,omitempty"`
	ApprovedAt         *time.Time    `json:"approved_at,omitempty"`
	SettledAt          *time.Time    `json:"settled_at,omitempty"`
	RefundedAt         *time.Time    `json:"refunded_at,omitempty"`
	FrozenAt           *time.Time    `json:"frozen_at,omitempty"`
	ClosedAt           *time.Time    `json:"closed_at,omitempty"`
}

func (h *Handler) toEscrowResponse(e *models.Escrow) escrowResponse {
	return escrowResponse{
		Address:            e.Address.String(),
		ID:                 e.ID,
		Payer:              e.Payer.String(),
		Custody:            e.Custody().String(),
		Splits:             e.Splits,
		TotalAmount:        e.TotalAmount,
		TotalAmountDisplay: h.amounts.display(e.TotalAmount),
		State:              string(e.State),
		Deadline:           e.Deadline,
		StorageDeposit:     e.StorageDeposit,
		SchemaVersion:      e.SchemaVersion,
		CreatedAt:          e.CreatedAt,
		FundedAt:           e.FundedAt,
		ApprovedAt:         e.ApprovedAt,
		SettledAt:          e.SettledAt,
		RefundedAt:         e.RefundedAt,
		FrozenAt:           e.FrozenAt,
		ClosedAt:           e.ClosedAt,
	}
}

type createEscrowRequest struct {
	ID          uint64        `json:"id"`
	Splits      []split.Split `json:"splits"`
	TotalAmount uint64        `json:"total_amount"`
	Deadline    *time.Time    `json:"deadline,omitempty"`
}

func (r *createEscrowRequest) Validate() error {
	if len(r.Splits) == 0 {
		return dErrors.New(dErrors.CodeValidation, "splits are required")
	}
	if r.TotalAmount == 0 {
		return dErrors.New(dErrors.CodeValidation, "total_amount is required")
	}
	return nil
}

type settleRequest struct {
	Destinations []domain.Identity `json:"destinations"`
}

func (r *settleRequest) Validate() error {
	if len(r.Destinations) == 0 {
		return dErrors.New(dErrors.CodeValidation, "destinations are required")
	}
	return nil
}

type adminSettleRequest struct {
	Splits       []split.Split     `json:"splits"`
	Destinations []domain.Identity `json:"destinations,omitempty"`
}

func (r *adminSettleRequest) Validate() error {
	if len(r.Splits) == 0 {
		return dErrors.New(dErrors.CodeValidation, "splits are required")
	}
	return nil
}

type escrowListResponse struct {
	Escrows []escrowResponse `json:"escrows"`
}

func (h *Handler) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeAndValidate[createEscrowRequest](r)
	if err != nil {
		h.writeError(ctx, w, "create escrow", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	e, err := h.svc.Create(ctx, caller, service.CreateEscrowRequest{
		ID:          req.ID,
		Splits:      req.Splits,
		TotalAmount: req.TotalAmount,
		Deadline:    req.Deadline,
	})
	if err != nil {
		h.writeError(ctx, w, "create escrow", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, h.toEscrowResponse(e))
}

func (h *Handler) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address, err := addressParam(r)
	if err != nil {
		h.writeError(ctx, w, "get escrow", err)
		return
	}
	e, err := h.svc.Get(ctx, address)
	if err != nil {
		h.writeError(ctx, w, "get escrow", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toEscrowResponse(e))
}

func (h *Handler) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payer, err := domain.ParseIdentity(r.URL.Query().Get("payer"))
	if err != nil {
		h.writeError(ctx, w, "list escrows", err)
		return
	}
	list, err := h.svc.ListByPayer(ctx, payer)
	if err != nil {
		h.writeError(ctx, w, "list escrows", err)
		return
	}
	resp := escrowListResponse{Escrows: make([]escrowResponse, 0, len(list))}
	for _, e := range list {
		resp.Escrows = append(resp.Escrows, h.toEscrowResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// escrowAction adapts a body-less caller+address operation to a handler.
func (h *Handler) escrowAction(op string, fn func(ctx context.Context, caller, address domain.Identity) (*models.Escrow, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		address, err := addressParam(r)
		if err != nil {
			h.writeError(ctx, w, op, err)
			return
		}
		caller, _ := requestcontext.Caller(ctx)
		e, err := fn(ctx, caller, address)
		if err != nil {
			h.writeError(ctx, w, op, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, h.toEscrowResponse(e))
	}
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address, err := addressParam(r)
	if err != nil {
		h.writeError(ctx, w, "settle escrow", err)
		return
	}
	req, err := httputil.DecodeAndValidate[settleRequest](r)
	if err != nil {
		h.writeError(ctx, w, "settle escrow", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	e, err := h.svc.Settle(ctx, caller, address, req.Destinations)
	if err != nil {
		h.writeError(ctx, w, "settle escrow", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toEscrowResponse(e))
}

func (h *Handler) handleAdminSettle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address, err := addressParam(r)
	if err != nil {
		h.writeError(ctx, w, "admin settle", err)
		return
	}
	req, err := httputil.DecodeAndValidate[adminSettleRequest](r)
	if err != nil {
		h.writeError(ctx, w, "admin settle", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	e, err := h.disputes.AdminSettleWithSplits(ctx, caller, address, req.Splits, req.Destinations)
	if err != nil {
		h.writeError(ctx, w, "admin settle", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toEscrowResponse(e))
}
