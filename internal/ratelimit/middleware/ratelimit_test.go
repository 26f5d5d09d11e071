package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"splitvault/internal/ratelimit/models"
	"splitvault/internal/ratelimit/store/bucket"
	"splitvault/pkg/domain"
	"splitvault/pkg/platform/circuit"
	"splitvault/pkg/requestcontext"
)

var (
	payer = domain.DeriveIdentity([]byte("test"), []byte("payer"))
	alice = domain.DeriveIdentity([]byte("test"), []byte("alice"))
)

type failingStore struct {
	calls atomic.Int32
}

func (f *failingStore) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	f.calls.Add(1)
	return nil, errors.New("redis: connection refused")
}

type RateLimitSuite struct {
	suite.Suite
	logger *slog.Logger
	limit  models.Limit
	served int
	next   http.Handler
}

func TestRateLimitSuite(t *testing.T) {
	suite.Run(t, new(RateLimitSuite))
}

func (s *RateLimitSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.limit = models.Limit{RequestsPerWindow: 2, Window: time.Minute}
	s.served = 0
	s.next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.served++
		w.WriteHeader(http.StatusOK)
	})
}

func (s *RateLimitSuite) newMiddleware(primary BucketStore, opts ...Option) http.Handler {
	opts = append([]Option{WithLogger(s.logger)}, opts...)
	m, err := New(primary, s.limit, opts...)
	s.Require().NoError(err)
	return m.RateLimit(s.next)
}

func (s *RateLimitSuite) do(h http.Handler, caller domain.Identity, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/escrows", nil)
	req.RemoteAddr = remoteAddr
	if !caller.IsZero() {
		req = req.WithContext(requestcontext.WithCaller(req.Context(), caller))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func (s *RateLimitSuite) TestNewValidates() {
	_, err := New(nil, s.limit)
	s.Error(err)
	_, err = New(bucket.NewInMemoryBucketStore(), models.Limit{RequestsPerWindow: 0, Window: time.Minute})
	s.Error(err)
	_, err = New(bucket.NewInMemoryBucketStore(), models.Limit{RequestsPerWindow: 1})
	s.Error(err)
	_, err = New(bucket.NewInMemoryBucketStore(), models.Limit{}, WithDisabled(true), WithLogger(s.logger))
	s.NoError(err, "a disabled limiter needs no quota")
}

// =============================================================================
// Per-caller quota
// =============================================================================
// Justification: mutating routes move value; one caller exhausting the quota
// must not affect another, and the 429 must tell the client when to retry.

func (s *RateLimitSuite) TestBlocksAfterQuota() {
	h := s.newMiddleware(bucket.NewInMemoryBucketStore())

	for i := 0; i < 2; i++ {
		rr := s.do(h, payer, "10.0.0.1:4000")
		s.Equal(http.StatusOK, rr.Code)
		s.Equal("2", rr.Header().Get("X-RateLimit-Limit"))
	}
	rr := s.do(h, payer, "10.0.0.1:4000")
	s.Equal(http.StatusTooManyRequests, rr.Code)
	s.Equal("0", rr.Header().Get("X-RateLimit-Remaining"))
	s.NotEmpty(rr.Header().Get("Retry-After"))

	var body models.RateLimitExceededResponse
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
	s.Equal("rate_limit_exceeded", body.Error)
	s.Positive(body.RetryAfter)
	s.Equal(2, s.served)
}

func (s *RateLimitSuite) TestCallersHaveSeparateBuckets() {
	h := s.newMiddleware(bucket.NewInMemoryBucketStore())

	for i := 0; i < 2; i++ {
		s.Equal(http.StatusOK, s.do(h, payer, "10.0.0.1:4000").Code)
	}
	s.Equal(http.StatusTooManyRequests, s.do(h, payer, "10.0.0.2:4000").Code,
		"a new address does not reset an authenticated caller")
	s.Equal(http.StatusOK, s.do(h, alice, "10.0.0.1:4000").Code)
}

func (s *RateLimitSuite) TestAnonymousRequestsBucketByAddress() {
	h := s.newMiddleware(bucket.NewInMemoryBucketStore())

	for i := 0; i < 2; i++ {
		s.Equal(http.StatusOK, s.do(h, domain.Identity{}, "10.0.0.1:4000").Code)
	}
	s.Equal(http.StatusTooManyRequests, s.do(h, domain.Identity{}, "10.0.0.1:5000").Code)
	s.Equal(http.StatusOK, s.do(h, domain.Identity{}, "10.0.0.2:4000").Code)
}

func (s *RateLimitSuite) TestDisabled() {
	h := s.newMiddleware(bucket.NewInMemoryBucketStore(), WithDisabled(true))
	for i := 0; i < 5; i++ {
		s.Equal(http.StatusOK, s.do(h, payer, "10.0.0.1:4000").Code)
	}
	s.Equal(5, s.served)
}

// =============================================================================
// Store failures
// =============================================================================

func (s *RateLimitSuite) TestFailsOpenWithoutFallback() {
	h := s.newMiddleware(&failingStore{})
	for i := 0; i < 3; i++ {
		s.Equal(http.StatusOK, s.do(h, payer, "10.0.0.1:4000").Code)
	}
	s.Equal(3, s.served)
}

func (s *RateLimitSuite) TestFallbackKeepsLimiting() {
	primary := &failingStore{}
	breaker := circuit.New("ratelimit-test",
		circuit.WithFailureThreshold(1),
		circuit.WithOpenTimeout(time.Hour),
		circuit.WithLogger(s.logger),
	)
	h := s.newMiddleware(primary,
		WithFallback(bucket.NewInMemoryBucketStore()),
		WithBreaker(breaker),
	)

	for i := 0; i < 2; i++ {
		rr := s.do(h, payer, "10.0.0.1:4000")
		s.Equal(http.StatusOK, rr.Code)
		s.Equal("degraded", rr.Header().Get("X-RateLimit-Status"))
	}
	s.Equal(http.StatusTooManyRequests, s.do(h, payer, "10.0.0.1:4000").Code)

	s.Equal(circuit.StateOpen, breaker.State())
	s.Equal(int32(1), primary.calls.Load(), "an open breaker stops calling the primary store")
}
