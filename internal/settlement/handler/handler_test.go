package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"splitvault/internal/ledger"
	ratelimit "splitvault/internal/ratelimit/middleware"
	rlmodels "splitvault/internal/ratelimit/models"
	"splitvault/internal/ratelimit/store/bucket"
	"splitvault/internal/platform/lock"
	pcservice "splitvault/internal/platformconfig/service"
	pcmemory "splitvault/internal/platformconfig/store/memory"
	"splitvault/internal/settlement/dispute"
	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/service"
	escrowstore "splitvault/internal/settlement/store/escrow"
	poolstore "splitvault/internal/settlement/store/pool"
	"splitvault/pkg/domain"
	"splitvault/pkg/requestcontext"
	"splitvault/pkg/testutil"
)

var (
	admin     = domain.DeriveIdentity([]byte("test"), []byte("admin"))
	treasury  = domain.DeriveIdentity([]byte("test"), []byte("treasury"))
	payer     = domain.DeriveIdentity([]byte("test"), []byte("payer"))
	alice     = domain.DeriveIdentity([]byte("test"), []byte("alice"))
	bob       = domain.DeriveIdentity([]byte("test"), []byte("bob"))
	authority = domain.DeriveIdentity([]byte("test"), []byte("authority"))

	now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
)

// =============================================================================
// Settlement Handler Test Suite
// =============================================================================
// Justification: the handler owns path parsing, request validation, error
// code to status mapping and the display rendering of amounts. Tests run
// against real in-memory services so status codes reflect real failures.

type HandlerSuite struct {
	suite.Suite
	router   http.Handler
	ledger   *ledger.InMemory
	svc      *service.Service
	disputes *dispute.Service
	config *pcservice.Service
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctx := requestcontext.WithTime(context.Background(), now)
	tx := lock.NewLocal()
	s.ledger = ledger.NewInMemory()
	escrows := escrowstore.NewInMemoryStore()

	config, err := pcservice.New(pcmemory.New(), tx)
	s.Require().NoError(err)
	_, err = config.Initialize(ctx, admin, treasury)
	s.Require().NoError(err)
	s.config = config

	svc, err := service.New(escrows, poolstore.NewInMemoryStore(), config, s.ledger, tx)
	s.Require().NoError(err)
	disputes, err := dispute.New(escrows, config, s.ledger, tx)
	s.Require().NoError(err)

	s.svc = svc
	s.disputes = disputes

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	New(svc, disputes, logger, nil).Register(r)
	s.router = r
}

func (s *HandlerSuite) do(method, path string, body any, caller domain.Identity) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	} else {
		req = testutil.NewRequest(s.T(), method, path)
	}
	req = testutil.WithTime(req, now)
	if !caller.IsZero() {
		req = testutil.WithCaller(req, caller)
	}
	return testutil.DoRequest(s.router, req)
}

func splitsBody() []map[string]any {
	return []map[string]any{
		{"recipient": alice.String(), "share": 9000},
		{"recipient": bob.String(), "share": 1000},
	}
}

// createFunded creates and funds escrow id 1 for total; it returns the address.
func (s *HandlerSuite) createFunded(total uint64) string {
	s.Require().NoError(s.ledger.Credit(context.Background(), payer, total))
	rr := s.do(http.MethodPost, "/escrows", map[string]any{
		"id":           1,
		"splits":       splitsBody(),
		"total_amount": total,
		"deadline":     now.Add(time.Hour).Format(time.RFC3339),
	}, payer)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	created := testutil.UnmarshalResponse[escrowResponse](s.T(), rr)

	rr = s.do(http.MethodPost, "/escrows/"+created.Address+"/fund", nil, payer)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	return created.Address
}

func (s *HandlerSuite) TestEscrowLifecycle() {
	address := s.createFunded(1_111_111)

	s.Run("get renders display amounts", func() {
		rr := s.do(http.MethodGet, "/escrows/"+address, nil, domain.Identity{})
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[escrowResponse](s.T(), rr)
		s.Equal(string(models.EscrowFunded), resp.State)
		s.Equal("1.111111", resp.TotalAmountDisplay)
	})

	s.Run("settle pays the split", func() {
		rr := s.do(http.MethodPost, "/escrows/"+address+"/settle", map[string]any{
			"destinations": []string{alice.String(), bob.String()},
		}, payer)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "state", string(models.EscrowSettled))
	})

	s.Run("second settle conflicts", func() {
		rr := s.do(http.MethodPost, "/escrows/"+address+"/settle", map[string]any{
			"destinations": []string{alice.String(), bob.String()},
		}, payer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invalid_state")
	})

	s.Run("balances reflect the payout", func() {
		rr := s.do(http.MethodGet, "/accounts/balances?account="+alice.String()+"&account="+bob.String(), nil, domain.Identity{})
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[balancesResponse](s.T(), rr)
		s.Require().Len(resp.Balances, 2)
		s.Equal(uint64(999_999), resp.Balances[0].Balance)
		s.Equal("0.999999", resp.Balances[0].BalanceDisplay)
		s.Equal(uint64(111_112), resp.Balances[1].Balance)
	})

	s.Run("close deletes the record", func() {
		rr := s.do(http.MethodPost, "/escrows/"+address+"/close", nil, payer)
		testutil.AssertStatusOK(s.T(), rr)
		rr = s.do(http.MethodGet, "/escrows/"+address, nil, domain.Identity{})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}

func (s *HandlerSuite) TestErrorMapping() {
	address := s.createFunded(2_000_000)

	s.Run("malformed address", func() {
		rr := s.do(http.MethodGet, "/escrows/not-hex", nil, domain.Identity{})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("non-payer settle is forbidden", func() {
		rr := s.do(http.MethodPost, "/escrows/"+address+"/settle", map[string]any{
			"destinations": []string{alice.String(), bob.String()},
		}, alice)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("missing caller is unauthorized", func() {
		rr := s.do(http.MethodPost, "/escrows/"+address+"/approve", nil, domain.Identity{})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("refund before deadline", func() {
		rr := s.do(http.MethodPost, "/escrows/"+address+"/refund", nil, bob)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "resource_exhausted")
	})

	s.Run("unknown body field", func() {
		rr := s.do(http.MethodPost, "/escrows/"+address+"/settle", map[string]any{"to": "x"}, payer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("paused platform rejects creation", func() {
		paused := true
		_, err := s.config.Update(requestcontext.WithTime(context.Background(), now), admin, pcservice.UpdateRequest{Paused: &paused})
		s.Require().NoError(err)
		rr := s.do(http.MethodPost, "/escrows", map[string]any{
			"id": 2, "splits": splitsBody(), "total_amount": 1_000_000,
		}, payer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "platform_paused")
	})
}

func (s *HandlerSuite) TestAdminRoutes() {
	address := s.createFunded(2_000_000)
	rr := s.do(http.MethodPost, "/escrows/"+address+"/freeze", nil, bob)
	testutil.AssertStatusOK(s.T(), rr)

	s.Run("override must total 10000", func() {
		rr := s.do(http.MethodPost, "/admin/escrows/"+address+"/settle", map[string]any{
			"splits": []map[string]any{
				{"recipient": alice.String(), "share": 5000},
				{"recipient": bob.String(), "share": 4999},
			},
		}, admin)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

		rr = s.do(http.MethodGet, "/escrows/"+address, nil, domain.Identity{})
		testutil.AssertJSONContains(s.T(), rr, "state", string(models.EscrowFrozen))
	})

	s.Run("only the admin resolves", func() {
		rr := s.do(http.MethodPost, "/admin/escrows/"+address+"/refund", nil, payer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("admin refund", func() {
		rr := s.do(http.MethodPost, "/admin/escrows/"+address+"/refund", nil, admin)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "state", string(models.EscrowAdminRefunded))
	})
}

func (s *HandlerSuite) TestPoolRoutes() {
	s.Require().NoError(s.ledger.Credit(context.Background(), payer, 500))
	rr := s.do(http.MethodPost, "/pools", map[string]any{
		"id":                  1,
		"release_authority":   authority.String(),
		"payment_per_release": 100,
		"max_releases":        2,
	}, payer)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	pool := testutil.UnmarshalResponse[poolResponse](s.T(), rr)

	rr = s.do(http.MethodPost, "/pools/"+pool.Address+"/fund", map[string]any{}, payer)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "funded_amount", float64(200))

	for i := 0; i < 2; i++ {
		rr = s.do(http.MethodPost, "/pools/"+pool.Address+"/release", map[string]any{"destination": alice.String()}, authority)
		testutil.AssertStatusOK(s.T(), rr)
	}
	rr = s.do(http.MethodPost, "/pools/"+pool.Address+"/release", map[string]any{"destination": alice.String()}, authority)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "resource_exhausted")

	rr = s.do(http.MethodGet, "/pools/"+pool.Address, nil, domain.Identity{})
	resp := testutil.UnmarshalResponse[poolResponse](s.T(), rr)
	s.Equal(uint64(200), resp.TotalReleased)
	s.Equal("0.000200", resp.TotalReleasedDisplay)

	rr = s.do(http.MethodPost, "/pools/"+pool.Address+"/close", nil, payer)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "state", string(models.PoolClosed))
}

func (s *HandlerSuite) TestPoolFee() {
	s.Require().NoError(s.ledger.Credit(context.Background(), payer, 1_000))
	rr := s.do(http.MethodPost, "/pools", map[string]any{
		"id":                  2,
		"release_authority":   authority.String(),
		"payment_per_release": 400,
		"max_releases":        2,
		"fee_bps":             500,
	}, payer)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	pool := testutil.UnmarshalResponse[poolResponse](s.T(), rr)
	s.Equal(uint16(500), pool.FeeBPS)
	s.Equal(uint64(20), pool.FeePerRelease)

	rr = s.do(http.MethodPost, "/pools/"+pool.Address+"/fund", map[string]any{}, payer)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "funded_amount", float64(840))

	rr = s.do(http.MethodPost, "/pools/"+pool.Address+"/release", map[string]any{"destination": alice.String()}, authority)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "total_released", float64(420))

	got, err := s.ledger.Balance(context.Background(), treasury)
	s.Require().NoError(err)
	s.Equal(uint64(20), got)

	rr = s.do(http.MethodPost, "/pools", map[string]any{
		"id":                  3,
		"release_authority":   authority.String(),
		"payment_per_release": 1,
		"max_releases":        1,
		"fee_bps":             10_001,
	}, payer)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
}

func (s *HandlerSuite) TestRateLimitGuardsMutations() {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	limiter, err := ratelimit.New(bucket.NewInMemoryBucketStore(),
		rlmodels.Limit{RequestsPerWindow: 1, Window: time.Minute},
		ratelimit.WithLogger(logger),
	)
	s.Require().NoError(err)
	r := chi.NewRouter()
	New(s.svc, s.disputes, logger, nil, WithRateLimit(limiter.RateLimit)).Register(r)
	s.router = r

	body := map[string]any{"id": 1, "splits": splitsBody(), "total_amount": models.MinEscrowAmount}
	rr := s.do(http.MethodPost, "/escrows", body, payer)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	address := testutil.UnmarshalResponse[escrowResponse](s.T(), rr).Address

	rr = s.do(http.MethodPost, "/escrows/"+address+"/cancel", nil, payer)
	testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
	testutil.AssertJSONContains(s.T(), rr, "error", "rate_limit_exceeded")

	rr = s.do(http.MethodGet, "/escrows/"+address, nil, domain.Identity{})
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "state", string(models.EscrowCreated))

	rr = s.do(http.MethodPost, "/escrows/"+address+"/freeze", nil, alice)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invalid_state")
}

func (s *HandlerSuite) TestQuote() {
	rr := s.do(http.MethodPost, "/splits/quote", map[string]any{
		"total_amount": 1_111_111,
		"splits":       splitsBody(),
	}, domain.Identity{})
	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[quoteResponse](s.T(), rr)
	s.Require().Len(resp.Lines, 2)
	s.Equal(uint64(999_999), resp.Lines[0].Amount)
	s.Equal(uint64(111_112), resp.Lines[1].Amount)
	s.Equal("0.111112", resp.Lines[1].AmountDisplay)

	rr = s.do(http.MethodPost, "/splits/quote", map[string]any{
		"total_amount": 10,
		"splits":       []map[string]any{{"recipient": alice.String(), "share": 10_000}, {"recipient": alice.String(), "share": 0}},
	}, domain.Identity{})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
}
