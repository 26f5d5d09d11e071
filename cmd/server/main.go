package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"splitvault/internal/bootstrap"
	jwttoken "splitvault/internal/jwt_token"
	"splitvault/internal/platform/config"
	"splitvault/internal/platform/httpserver"
	"splitvault/internal/platform/logger"
	"splitvault/internal/platform/metrics"
	"splitvault/internal/platform/tracing"
	pchandler "splitvault/internal/platformconfig/handler"
	pcservice "splitvault/internal/platformconfig/service"
	"splitvault/internal/settlement/dispute"
	"splitvault/internal/settlement/handler"
	settlementmetrics "splitvault/internal/settlement/metrics"
	"splitvault/internal/settlement/service"
	"splitvault/pkg/platform/audit/publishers/compliance"
	authmw "splitvault/pkg/platform/middleware/auth"
	request "splitvault/pkg/platform/middleware/request"
	"splitvault/pkg/platform/middleware/requesttime"
)

// main wires the settlement services onto the HTTP router and runs the
// server alongside the outbox relay until SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, "splitvault", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	infra, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	auditPublisher := compliance.New(infra.auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)
	settlementMetrics := settlementmetrics.New()

	platformSvc, err := pcservice.New(infra.configStore, infra.tx,
		pcservice.WithLogger(log),
		pcservice.WithAuditPublisher(auditPublisher),
	)
	if err != nil {
		return err
	}
	settlementSvc, err := service.New(infra.escrows, infra.pools, platformSvc, infra.ledger, infra.tx,
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(settlementMetrics),
		service.WithStorageDeposit(cfg.Settlement.StorageDeposit),
		service.WithPoolOverfunding(cfg.Settlement.AllowPoolOverfunding),
	)
	if err != nil {
		return err
	}
	disputeSvc, err := dispute.New(infra.escrows, platformSvc, infra.ledger, infra.tx,
		dispute.WithLogger(log),
		dispute.WithAuditPublisher(auditPublisher),
		dispute.WithMetrics(settlementMetrics),
	)
	if err != nil {
		return err
	}

	if cfg.SeedFile != "" {
		seed, err := bootstrap.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		if _, err := seed.Apply(ctx, platformSvc, infra.ledger, log); err != nil {
			return err
		}
	}

	limiter, err := buildRateLimiter(cfg.RateLimit, infra, log)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)
	requireAuth := authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), log)
	httpMetrics := metrics.New()

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log))
	r.Use(requesttime.Middleware)
	r.Use(httpMetrics.Middleware)

	r.Get("/healthz", healthHandler(infra))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	pchandler.New(platformSvc, log, requireAuth).Register(r)
	handler.New(settlementSvc, disputeSvc, log, requireAuth,
		handler.WithAmountDecimals(cfg.Settlement.AmountDecimals),
		handler.WithRateLimit(limiter.RateLimit),
	).Register(r)

	srv := httpserver.New(cfg.Server.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.Addr, "store", cfg.Backend, "lock", cfg.LockBackend)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	if infra.relay != nil {
		g.Go(func() error {
			log.Info("outbox relay started", "topic", cfg.Kafka.Topic)
			return infra.relay.Run(gctx)
		})
	}
	return g.Wait()
}

func healthHandler(in *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := in.Health(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
