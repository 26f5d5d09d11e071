// Package middleware applies a per-caller sliding-window quota to HTTP
// routes.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"splitvault/internal/ratelimit/models"
	"splitvault/pkg/platform/circuit"
	"splitvault/pkg/platform/httputil"
	"splitvault/pkg/requestcontext"
)

// BucketStore counts requests per key over a sliding window.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	primary  BucketStore
	fallback BucketStore
	breaker  *circuit.Breaker
	limit    models.Limit
	logger   *slog.Logger
	metrics  *Metrics
	disabled bool
}

type Option func(*Middleware)

// WithFallback sets the store consulted while the primary store fails or its
// breaker is open.
func WithFallback(store BucketStore) Option {
	return func(m *Middleware) {
		m.fallback = store
	}
}

// WithBreaker wraps primary store calls in breaker.
func WithBreaker(breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.breaker = breaker
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(primary BucketStore, limit models.Limit, opts ...Option) (*Middleware, error) {
	if primary == nil {
		return nil, errors.New("bucket store is required")
	}
	m := &Middleware{
		primary: primary,
		limit:   limit,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		m.logger.Info("rate limiting disabled")
		return m, nil
	}
	if limit.RequestsPerWindow <= 0 || limit.Window <= 0 {
		return nil, errors.New("rate limit requires a positive request count and window")
	}
	return m, nil
}

// RateLimit buckets by the authenticated caller, or by client address for
// anonymous requests, so it belongs after the auth middleware. A store
// failure with no fallback lets the request through.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key := requestKey(r)
		result, degraded, err := m.check(ctx, key)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		if degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}
		addRateLimitHeaders(w, result)

		if !result.Allowed {
			m.metrics.IncBlocked()
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"key", key,
				"retry_after", result.RetryAfter,
				"request_id", requestcontext.RequestID(ctx),
			)
			writeRateLimitExceeded(w, result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) check(ctx context.Context, key string) (*models.RateLimitResult, bool, error) {
	var result *models.RateLimitResult
	call := func() error {
		var err error
		result, err = m.primary.Allow(ctx, key, m.limit.RequestsPerWindow, m.limit.Window)
		return err
	}
	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(call)
	} else {
		err = call()
	}
	if err == nil {
		return result, false, nil
	}
	if m.fallback == nil {
		return nil, false, err
	}

	m.metrics.IncDegraded()
	m.logger.WarnContext(ctx, "rate limit store unavailable, using fallback", "error", err)
	result, err = m.fallback.Allow(ctx, key, m.limit.RequestsPerWindow, m.limit.Window)
	if err != nil {
		return nil, true, err
	}
	return result, true, nil
}

func requestKey(r *http.Request) string {
	if caller, ok := requestcontext.Caller(r.Context()); ok {
		return models.NewCallerKey(caller)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return models.NewIPKey(host)
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
