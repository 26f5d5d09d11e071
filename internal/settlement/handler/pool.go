package handler

import (
	"net/http"
	"time"

	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/service"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	"splitvault/pkg/platform/httputil"
	"splitvault/pkg/requestcontext"
)

type poolResponse struct {
	Address                  string     `json:"address"`
	ID                       uint64     `json:"id"`
	Payer                    string     `json:"payer"`
	Custody                  string     `json:"custody"`
	ReleaseAuthority         string     `json:"release_authority"`
	PaymentPerRelease        uint64     `json:"payment_per_release"`
	PaymentPerReleaseDisplay string     `json:"payment_per_release_display"`
	MaxReleases              uint32     `json:"max_releases"`
	FeeBPS                   uint16     `json:"fee_bps"`
	FeePerRelease            uint64     `json:"fee_per_release"`
	ReleasedCount            uint32     `json:"released_count"`
	FundedAmount             uint64     `json:"funded_amount"`
	FundedAmountDisplay      string     `json:"funded_amount_display"`
	TotalReleased            uint64     `json:"total_released"`
	TotalReleasedDisplay     string     `json:"total_released_display"`
	State                    string     `json:"state"`
	Deadline                 *time.Time `json:"deadline,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	FundedAt                 *time.Time `json:"funded_at,omitempty"`
	ClosedAt                 *time.Time `json:"closed_at,omitempty"`
}

func (h *Handler) toPoolResponse(p *models.Pool) poolResponse {
	released := p.Released()
	return poolResponse{
		Address:                  p.Address.String(),
		ID:                       p.ID,
		Payer:                    p.Payer.String(),
		Custody:                  p.Custody().String(),
		ReleaseAuthority:         p.ReleaseAuthority.String(),
		PaymentPerRelease:        p.PaymentPerRelease,
		PaymentPerReleaseDisplay: h.amounts.display(p.PaymentPerRelease),
		MaxReleases:              p.MaxReleases,
		FeeBPS:                   p.FeeBPS,
		FeePerRelease:            p.FeePerRelease(),
		ReleasedCount:            p.ReleasedCount,
		FundedAmount:             p.FundedAmount,
		FundedAmountDisplay:      h.amounts.display(p.FundedAmount),
		TotalReleased:            released,
		TotalReleasedDisplay:     h.amounts.display(released),
		State:                    string(p.State),
		Deadline:                 p.Deadline,
		CreatedAt:                p.CreatedAt,
		FundedAt:                 p.FundedAt,
		ClosedAt:                 p.ClosedAt,
	}
}

type createPoolRequest struct {
	ID                uint64          `json:"id"`
	ReleaseAuthority  domain.Identity `json:"release_authority"`
	PaymentPerRelease uint64          `json:"payment_per_release"`
	MaxReleases       uint32          `json:"max_releases"`
	FeeBPS            uint16          `json:"fee_bps,omitempty"`
	Deadline          *time.Time      `json:"deadline,omitempty"`
}

func (r *createPoolRequest) Validate() error {
	if r.ReleaseAuthority.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "release_authority is required")
	}
	return nil
}

type fundPoolRequest struct {
	// Amount 0 or omitted funds exactly (payment_per_release + fee) * max_releases.
	Amount uint64 `json:"amount,omitempty"`
}

func (r *fundPoolRequest) Validate() error {
	return nil
}

type releaseRequest struct {
	Destination domain.Identity `json:"destination"`
}

func (r *releaseRequest) Validate() error {
	if r.Destination.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "destination is required")
	}
	return nil
}

func (h *Handler) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeAndValidate[createPoolRequest](r)
	if err != nil {
		h.writeError(ctx, w, "create pool", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	p, err := h.svc.CreatePool(ctx, caller, service.CreatePoolRequest{
		ID:                req.ID,
		ReleaseAuthority:  req.ReleaseAuthority,
		PaymentPerRelease: req.PaymentPerRelease,
		MaxReleases:       req.MaxReleases,
		FeeBPS:            req.FeeBPS,
		Deadline:          req.Deadline,
	})
	if err != nil {
		h.writeError(ctx, w, "create pool", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, h.toPoolResponse(p))
}

func (h *Handler) handleGetPool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address, err := addressParam(r)
	if err != nil {
		h.writeError(ctx, w, "get pool", err)
		return
	}
	p, err := h.svc.GetPool(ctx, address)
	if err != nil {
		h.writeError(ctx, w, "get pool", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toPoolResponse(p))
}

func (h *Handler) handleFundPool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address, err := addressParam(r)
	if err != nil {
		h.writeError(ctx, w, "fund pool", err)
		return
	}
	req, err := httputil.DecodeAndValidate[fundPoolRequest](r)
	if err != nil {
		h.writeError(ctx, w, "fund pool", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	p, err := h.svc.FundPool(ctx, caller, address, req.Amount)
	if err != nil {
		h.writeError(ctx, w, "fund pool", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toPoolResponse(p))
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address, err := addressParam(r)
	if err != nil {
		h.writeError(ctx, w, "release from pool", err)
		return
	}
	req, err := httputil.DecodeAndValidate[releaseRequest](r)
	if err != nil {
		h.writeError(ctx, w, "release from pool", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	p, err := h.svc.PartialRelease(ctx, caller, address, req.Destination)
	if err != nil {
		h.writeError(ctx, w, "release from pool", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toPoolResponse(p))
}

func (h *Handler) handleClosePool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address, err := addressParam(r)
	if err != nil {
		h.writeError(ctx, w, "close pool", err)
		return
	}
	caller, _ := requestcontext.Caller(ctx)
	p, err := h.svc.ClosePool(ctx, caller, address)
	if err != nil {
		h.writeError(ctx, w, "close pool", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toPoolResponse(p))
}
