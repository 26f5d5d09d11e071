package handler

import (
	"net/http"

	"splitvault/internal/settlement/service"
	"splitvault/internal/settlement/split"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	"splitvault/pkg/platform/httputil"
)

type quoteRequest struct {
	TotalAmount uint64        `json:"total_amount"`
	Splits      []split.Split `json:"splits"`
}

func (r *quoteRequest) Validate() error {
	if r.TotalAmount == 0 {
		return dErrors.New(dErrors.CodeValidation, "total_amount is required")
	}
	return nil
}

type quoteLine struct {
	Recipient     string `json:"recipient"`
	Share         int    `json:"share"`
	Amount        uint64 `json:"amount"`
	AmountDisplay string `json:"amount_display"`
}

type quoteResponse struct {
	TotalAmount        uint64      `json:"total_amount"`
	TotalAmountDisplay string      `json:"total_amount_display"`
	Lines              []quoteLine `json:"lines"`
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeAndValidate[quoteRequest](r)
	if err != nil {
		h.writeError(ctx, w, "quote splits", err)
		return
	}
	amounts, err := service.Quote(req.TotalAmount, req.Splits)
	if err != nil {
		h.writeError(ctx, w, "quote splits", err)
		return
	}
	resp := quoteResponse{
		TotalAmount:        req.TotalAmount,
		TotalAmountDisplay: h.amounts.display(req.TotalAmount),
		Lines:              make([]quoteLine, len(amounts)),
	}
	for i, amount := range amounts {
		resp.Lines[i] = quoteLine{
			Recipient:     req.Splits[i].Recipient.String(),
			Share:         req.Splits[i].Share,
			Amount:        amount,
			AmountDisplay: h.amounts.display(amount),
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type balanceLine struct {
	Account        string `json:"account"`
	Balance        uint64 `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
}

type balancesResponse struct {
	Balances []balanceLine `json:"balances"`
}

// handleBalances reads ?account=<hex> (repeatable), answering in request order.
func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query()["account"]
	if len(raw) == 0 {
		h.writeError(ctx, w, "read balances", dErrors.New(dErrors.CodeValidation, "at least one account is required"))
		return
	}
	accounts := make([]domain.Identity, len(raw))
	for i, s := range raw {
		id, err := domain.ParseIdentity(s)
		if err != nil {
			h.writeError(ctx, w, "read balances", err)
			return
		}
		accounts[i] = id
	}
	balances, err := h.svc.Balances(ctx, accounts)
	if err != nil {
		h.writeError(ctx, w, "read balances", err)
		return
	}
	resp := balancesResponse{Balances: make([]balanceLine, len(accounts))}
	for i, a := range accounts {
		resp.Balances[i] = balanceLine{
			Account:        a.String(),
			Balance:        balances[a],
			BalanceDisplay: h.amounts.display(balances[a]),
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
