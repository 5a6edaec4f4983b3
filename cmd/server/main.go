package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/iho/balancekeeper/internal/adapter/cache"
	"github.com/iho/balancekeeper/internal/adapter/currency"
	httpAdapter "github.com/iho/balancekeeper/internal/adapter/http"
	"github.com/iho/balancekeeper/internal/adapter/http/handler"
	"github.com/iho/balancekeeper/internal/adapter/http/middleware"
	"github.com/iho/balancekeeper/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/balancekeeper/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/balancekeeper/internal/adapter/repository/redis"
	"github.com/iho/balancekeeper/internal/engine"
	"github.com/iho/balancekeeper/internal/infrastructure/config"
	"github.com/iho/balancekeeper/internal/infrastructure/eventpublisher"
	"github.com/iho/balancekeeper/internal/infrastructure/idgen"
	"github.com/iho/balancekeeper/internal/infrastructure/logger"
	"github.com/iho/balancekeeper/internal/infrastructure/metrics"
	"github.com/iho/balancekeeper/internal/infrastructure/postgres"
	"github.com/iho/balancekeeper/internal/infrastructure/queue"
	"github.com/iho/balancekeeper/internal/infrastructure/redis"
	"github.com/iho/balancekeeper/internal/infrastructure/retry"
	"github.com/iho/balancekeeper/internal/usecase"
)

// limiterIdle is how long a client may stay quiet before its limiter is dropped.
const limiterIdle = 10 * time.Minute

// app is the wired service.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	handler     http.Handler
	coordinator *usecase.Coordinator
	broadcaster *eventpublisher.Broadcaster
	limiter     *middleware.RateLimiter
	relay       *eventpublisher.Relay
	closers     []func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lg := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Logger = lg

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, lg, reg)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to start")
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		lg.Fatal().Err(err).Msg("server failed")
	}

	lg.Info().Msg("server stopped")
}

// newApp connects the configured backends, restores persisted balances and
// builds the HTTP handler.
func newApp(ctx context.Context, cfg *config.Config, lg zerolog.Logger, reg *prometheus.Registry) (_ *app, err error) {
	a := &app{cfg: cfg, logger: lg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	m := metrics.New(reg)

	converter, err := currency.NewStaticConverter(cfg.CurrencyRates)
	if err != nil {
		return nil, fmt.Errorf("failed to parse currency rates: %w", err)
	}

	aggregates, err := cache.NewAggregateCache(cfg.CacheCapacity, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregate cache: %w", err)
	}

	checks := map[string]handler.HealthCheck{}

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { redisClient.Close() })
		checks["redis"] = redis.Ping(redisClient)
		lg.Info().Msg("connected to redis")
	}

	var repo usecase.EntryRepository
	var journal usecase.TransactionJournal = memory.NewTransactionLog()

	switch cfg.StoreBackend {
	case config.BackendRedis:
		repo = redisRepo.NewEntryRepository(redisClient, cfg.RedisEntriesKey)
	case config.BackendPostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			return nil, err
		}

		dbCtx, cancel := context.WithTimeout(ctx, cfg.DatabaseTimeout)
		pool, err := postgres.NewPoolWithConfig(dbCtx, postgres.PoolConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.DatabaseMaxConns,
			MinConns:    cfg.DatabaseMinConns,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		checks["postgres"] = pool.Ping
		lg.Info().Msg("connected to postgres")

		pgRetrier := retry.NewPostgres(lg, retry.WithMaxRetries(cfg.RetryMax))
		repo = postgresRepo.NewEntryRepository(pool, pgRetrier)
		journal = postgresRepo.NewTransactionLog(pool, pgRetrier)
	}

	a.broadcaster = eventpublisher.NewBroadcaster(lg, m)
	q := queue.New(queue.Config{Workers: cfg.QueueWorkers, Debounce: cfg.DebounceWindow}, lg, m)

	a.coordinator = usecase.NewCoordinator(usecase.Config{
		Store:       memory.NewLedgerStore(),
		Cache:       aggregates,
		Queue:       q,
		Broadcaster: a.broadcaster,
		Engine:      engine.New(converter),
		Retrier:     retry.NewStaleVersion(lg, retry.WithMaxRetries(cfg.RetryMax)),
		Metrics:     m,
		Repository:  repo,
		Journal:     journal,
		Logger:      lg,
	})

	if err := a.coordinator.Restore(ctx); err != nil {
		return nil, err
	}

	sinks := []eventpublisher.Publisher{eventpublisher.NewLogPublisher(lg)}
	if cfg.RedisSnapshotChannel != "" {
		sinks = append(sinks, eventpublisher.NewRedisPublisher(redisClient, cfg.RedisSnapshotChannel))
	}
	a.relay = eventpublisher.NewRelay(a.coordinator.Subscribe(0), lg, sinks...)

	var idempotencyStore usecase.IdempotencyStore
	if redisClient != nil {
		idempotencyStore = redisRepo.NewIdempotencyStore(redisClient)
	}

	a.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m)

	a.handler = httpAdapter.NewRouter(httpAdapter.RouterConfig{
		AccountHandler:        handler.NewAccountHandler(a.coordinator, cfg.OperationTimeout),
		TransactionHandler:    handler.NewTransactionHandler(a.coordinator, cfg.OperationTimeout),
		BalanceHandler:        handler.NewBalanceHandler(a.coordinator, cfg.OperationTimeout),
		ReconciliationHandler: handler.NewReconciliationHandler(a.coordinator, cfg.OperationTimeout),
		HealthHandler:         handler.NewHealthHandler(checks),
		Logger:                lg,
		IDGenerator:           idgen.NewULIDGenerator(),
		Metrics:               m,
		Gatherer:              reg,
		RateLimiter:           a.limiter,
		IdempotencyStore:      idempotencyStore,
		IdempotencyTTL:        cfg.IdempotencyTTL,
	})

	lg.Info().
		Str("backend", cfg.StoreBackend).
		Int("accounts", len(a.coordinator.Entries())).
		Bool("idempotency", idempotencyStore != nil).
		Msg("service wired")

	return a, nil
}

// run serves HTTP until ctx is cancelled, then drains queued work.
func (a *app) run(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", a.cfg.HTTPPort),
		Handler:      a.handler,
		ReadTimeout:  a.cfg.HTTPReadTimeout,
		WriteTimeout: a.cfg.HTTPWriteTimeout,
		IdleTimeout:  a.cfg.HTTPIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("port", a.cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := a.relay.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.cleanupLimiters(gctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutting down server...")
		return a.shutdown(server)
	})

	return g.Wait()
}

func (a *app) shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer cancel()

	// Streams end when the broadcaster closes, so Shutdown does not wait on them.
	a.broadcaster.Close()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if err := a.coordinator.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain update queue: %w", err))
	}
	return errors.Join(errs...)
}

func (a *app) cleanupLimiters(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.limiter.CleanupLimiters(limiterIdle); removed > 0 {
				a.logger.Debug().Int("removed", removed).Msg("idle rate limiters dropped")
			}
		}
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
