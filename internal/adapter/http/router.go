package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/balancekeeper/internal/adapter/http/handler"
	"github.com/iho/balancekeeper/internal/adapter/http/middleware"
	"github.com/iho/balancekeeper/internal/infrastructure/metrics"
	"github.com/iho/balancekeeper/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	AccountHandler        *handler.AccountHandler
	TransactionHandler    *handler.TransactionHandler
	BalanceHandler        *handler.BalanceHandler
	ReconciliationHandler *handler.ReconciliationHandler
	HealthHandler         *handler.HealthHandler

	Logger      zerolog.Logger
	IDGenerator usecase.IDGenerator
	Metrics     *metrics.Metrics
	// Gatherer backs /metrics. Nil leaves the endpoint unregistered.
	Gatherer    prometheus.Gatherer
	RateLimiter *middleware.RateLimiter

	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	if cfg.IDGenerator != nil {
		r.Use(middleware.NewLoggingMiddleware(cfg.Logger, cfg.IDGenerator).Wrap)
	}
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			idempotencyMiddleware := middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Logger)
			r.Use(idempotencyMiddleware.Wrap)
		}

		// Accounts
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", cfg.AccountHandler.Register)
			r.Get("/", cfg.AccountHandler.List)
			r.Get("/{id}", cfg.AccountHandler.Get)
			r.Delete("/{id}", cfg.AccountHandler.Remove)
			r.Put("/{id}/opening-balance", cfg.AccountHandler.SetOpeningBalance)
			r.Put("/{id}/mode", cfg.AccountHandler.SetMode)
			r.Get("/{id}/reconcile", cfg.ReconciliationHandler.Account)
		})

		r.Post("/transactions", cfg.TransactionHandler.Apply)
		r.Post("/recalculate", cfg.TransactionHandler.Recalculate)
		r.Get("/reconcile", cfg.ReconciliationHandler.All)

		// Balances
		r.Get("/balances", cfg.BalanceHandler.Snapshot)
		r.Get("/balances/stream", cfg.BalanceHandler.Stream)
		r.Get("/aggregates", cfg.BalanceHandler.Aggregate)
	})

	return r
}
