package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/balancekeeper/internal/adapter/cache"
	"github.com/iho/balancekeeper/internal/adapter/http/dto"
	"github.com/iho/balancekeeper/internal/adapter/http/handler"
	apimiddleware "github.com/iho/balancekeeper/internal/adapter/http/middleware"
	"github.com/iho/balancekeeper/internal/adapter/repository/memory"
	redisrepo "github.com/iho/balancekeeper/internal/adapter/repository/redis"
	"github.com/iho/balancekeeper/internal/engine"
	"github.com/iho/balancekeeper/internal/infrastructure/eventpublisher"
	"github.com/iho/balancekeeper/internal/infrastructure/idgen"
	"github.com/iho/balancekeeper/internal/infrastructure/metrics"
	"github.com/iho/balancekeeper/internal/infrastructure/queue"
	"github.com/iho/balancekeeper/internal/usecase"
)

func newRouterConfig(t *testing.T, opts ...func(*RouterConfig)) RouterConfig {
	t.Helper()

	m := metrics.NewUnregistered()
	aggregates, err := cache.NewAggregateCache(32, m)
	require.NoError(t, err)

	q := queue.New(queue.Config{Workers: 2}, zerolog.Nop(), m)
	coordinator := usecase.NewCoordinator(usecase.Config{
		Store:       memory.NewLedgerStore(),
		Cache:       aggregates,
		Queue:       q,
		Broadcaster: eventpublisher.NewBroadcaster(zerolog.Nop(), m),
		Engine:      engine.New(nil),
		Metrics:     m,
		Journal:     memory.NewTransactionLog(),
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(func() { coordinator.Close(context.Background()) })

	cfg := RouterConfig{
		AccountHandler:        handler.NewAccountHandler(coordinator, time.Second),
		TransactionHandler:    handler.NewTransactionHandler(coordinator, time.Second),
		BalanceHandler:        handler.NewBalanceHandler(coordinator, time.Second),
		ReconciliationHandler: handler.NewReconciliationHandler(coordinator, time.Second),
		HealthHandler:         handler.NewHealthHandler(nil),
		Logger:                zerolog.Nop(),
		IDGenerator:           idgen.NewULIDGenerator(),
		Metrics:               m,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

func serve(router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewRouter_HealthEndpointAvailable(t *testing.T) {
	router := NewRouter(newRouterConfig(t))

	rec := serve(router, http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to return 200, got %d", rec.Code)
	}
	if rec.Header().Get(apimiddleware.RequestIDHeader) == "" {
		t.Fatalf("expected a request id on every response")
	}
}

func TestNewRouter_RateLimiterBlocksExcessRequests(t *testing.T) {
	rl := apimiddleware.NewRateLimiter(1, 1, nil)
	router := NewRouter(newRouterConfig(t, func(cfg *RouterConfig) {
		cfg.RateLimiter = rl
	}))

	req1 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req1.RemoteAddr = "1.2.3.4:1234"
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.RemoteAddr = "1.2.3.4:1234"
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestNewRouter_RegistersKeyRoutes(t *testing.T) {
	router := NewRouter(newRouterConfig(t, func(cfg *RouterConfig) {
		cfg.Gatherer = prometheus.NewRegistry()
	}))

	chiRoutes, ok := router.(chi.Router)
	if !ok {
		t.Fatal("router does not implement chi.Routes")
	}

	seen := map[string]bool{}
	if err := chi.Walk(chiRoutes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		seen[method+" "+route] = true
		return nil
	}); err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	expected := []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"POST /api/v1/accounts/",
		"GET /api/v1/accounts/",
		"GET /api/v1/accounts/{id}",
		"DELETE /api/v1/accounts/{id}",
		"PUT /api/v1/accounts/{id}/opening-balance",
		"PUT /api/v1/accounts/{id}/mode",
		"GET /api/v1/accounts/{id}/reconcile",
		"POST /api/v1/transactions",
		"POST /api/v1/recalculate",
		"GET /api/v1/reconcile",
		"GET /api/v1/balances",
		"GET /api/v1/balances/stream",
		"GET /api/v1/aggregates",
	}

	for _, route := range expected {
		if !seen[route] {
			t.Fatalf("expected route %s to be registered", route)
		}
	}
}

func TestNewRouter_TransferFlow(t *testing.T) {
	router := NewRouter(newRouterConfig(t))

	rec := serve(router, http.MethodPost, "/api/v1/accounts/",
		`{"accounts":[{"id":"cash","currency":"USD","displayed_balance":"100"},{"id":"card","currency":"USD","displayed_balance":"0"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(router, http.MethodPost, "/api/v1/transactions",
		`{"operation":"add","new":{"id":"t1","amount":"40","currency":"USD","date":"2025-02-14T10:00:00Z","account_id":"cash","target_account_id":"card","kind":"transfer","category_id":"moves"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(router, http.MethodGet, "/api/v1/balances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap dto.SnapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Balances["cash"].Equal(decimal.NewFromInt(60)), "cash=%s", snap.Balances["cash"])
	assert.True(t, snap.Balances["card"].Equal(decimal.NewFromInt(40)), "card=%s", snap.Balances["card"])

	rec = serve(router, http.MethodGet, "/api/v1/aggregates?account_id=card&category_id=moves&window=2025-02", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var agg dto.AggregateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agg))
	assert.True(t, agg.Value.Equal(decimal.NewFromInt(40)), "aggregate=%s", agg.Value)

	rec = serve(router, http.MethodGet, "/api/v1/accounts/cash/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rr dto.ReconciliationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rr))
	assert.True(t, rr.IsReconciled)

	rec = serve(router, http.MethodGet, "/api/v1/accounts/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewRouter_IdempotencyReplaysTransaction(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	router := NewRouter(newRouterConfig(t, func(cfg *RouterConfig) {
		cfg.IdempotencyStore = redisrepo.NewIdempotencyStore(client)
		cfg.IdempotencyTTL = time.Minute
	}))

	rec := serve(router, http.MethodPost, "/api/v1/accounts/", `{"accounts":[{"id":"cash","currency":"USD","displayed_balance":"10"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := `{"operation":"add","new":{"id":"t1","amount":"5","currency":"USD","date":"2025-02-14T10:00:00Z","account_id":"cash","kind":"income"}}`
	first := serve(router, http.MethodPost, "/api/v1/transactions", body, apimiddleware.IdempotencyKeyHeader, "income-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := serve(router, http.MethodPost, "/api/v1/transactions", body, apimiddleware.IdempotencyKeyHeader, "income-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(apimiddleware.IdempotencyReplayHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	rec = serve(router, http.MethodGet, "/api/v1/accounts/cash", "")
	var entry dto.EntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.True(t, entry.CurrentBalance.Equal(decimal.NewFromInt(15)), "balance=%s", entry.CurrentBalance)
}
