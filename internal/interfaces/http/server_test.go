package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EnragedAntelope/autotrader-sub001/internal/backtest"
	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/marketdata"
	"github.com/EnragedAntelope/autotrader-sub001/internal/metrics"
	"github.com/EnragedAntelope/autotrader-sub001/internal/monitor"
	"github.com/EnragedAntelope/autotrader-sub001/internal/notify"
	"github.com/EnragedAntelope/autotrader-sub001/internal/orders"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence/memory"
	"github.com/EnragedAntelope/autotrader-sub001/internal/ratelimit"
	"github.com/EnragedAntelope/autotrader-sub001/internal/risk"
	"github.com/EnragedAntelope/autotrader-sub001/internal/scan"
	"github.com/EnragedAntelope/autotrader-sub001/internal/scheduler"
)

type testEnv struct {
	server *Server
	store  *persistence.Store
	paper  *broker.Paper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	paper := broker.NewPaper(100_000)
	quotes := marketdata.NewMemory()
	hub := notify.NewHub(nil)
	reg := metrics.NewRegistry()

	gate := risk.NewGate(store, paper, "paper")
	executor := orders.NewExecutor(store, paper, gate, quotes, hub, reg, "paper")
	mon := monitor.New(store, paper, executor, quotes, hub, reg, "paper", time.Minute)
	sched := scheduler.New(store, scan.NewBarScanner(paper), paper, executor, hub, reg)

	srv := NewServer(DefaultServerConfig(), Deps{
		Store:       store,
		Executor:    executor,
		Monitor:     mon,
		Scheduler:   sched,
		Budget:      ratelimit.NewBudget(250, 2500),
		Backtest:    backtest.New(nil),
		Metrics:     reg,
		Hub:         hub,
		TradingMode: "paper",
	})
	return &testEnv{server: srv, store: store, paper: paper}
}

func (e *testEnv) seedSettings(t *testing.T) {
	t.Helper()
	sl, tp := 5.0, 15.0
	err := e.store.Settings.Put(context.Background(), persistence.RiskSettings{
		Enabled:              true,
		MaxTransactionAmt:    10_000,
		DailySpendLimit:      50_000,
		WeeklySpendLimit:     100_000,
		MaxPositions:         10,
		DefaultStopLossPct:   &sl,
		DefaultTakeProfitPct: &tp,
	})
	require.NoError(t, err)
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "paper", resp["trading_mode"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestTradeEndpointExecutesBuy(t *testing.T) {
	env := newTestEnv(t)
	env.seedSettings(t)
	env.paper.SetPrice("AAPL", 185.50)

	rec := env.do(t, http.MethodPost, "/api/v1/trade", map[string]interface{}{
		"symbol":     "AAPL",
		"quantity":   10,
		"side":       "buy",
		"order_type": "market",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome orders.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.True(t, outcome.Executed)
	require.NotNil(t, outcome.Trade)
	assert.Equal(t, "AAPL", outcome.Trade.Symbol)
}

func TestTradeEndpointRejectsInvalidOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedSettings(t)

	rec := env.do(t, http.MethodPost, "/api/v1/trade", map[string]interface{}{
		"symbol":     "AAPL",
		"quantity":   0,
		"side":       "buy",
		"order_type": "market",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradeEndpointWithoutSettingsFails(t *testing.T) {
	env := newTestEnv(t)
	env.paper.SetPrice("AAPL", 185.50)

	rec := env.do(t, http.MethodPost, "/api/v1/trade", map[string]interface{}{
		"symbol":     "AAPL",
		"quantity":   10,
		"side":       "buy",
		"order_type": "market",
	})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestTradeEndpointReportsRiskRejection(t *testing.T) {
	env := newTestEnv(t)
	env.seedSettings(t)
	env.paper.SetPrice("TSLA", 900)

	// 100 * 900 = 90k, far past the 10k per-transaction cap.
	rec := env.do(t, http.MethodPost, "/api/v1/trade", map[string]interface{}{
		"symbol":     "TSLA",
		"quantity":   100,
		"side":       "buy",
		"order_type": "market",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome orders.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.False(t, outcome.Executed)
	assert.Contains(t, outcome.RejectReason, "exceeds maximum")
}

func TestPositionsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Positions.Upsert(context.Background(), persistence.Position{
		Symbol: "NVDA", TradingMode: "paper", Quantity: 5, AvgCost: 800,
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count     int                    `json:"count"`
		Positions []persistence.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "NVDA", resp.Positions[0].Symbol)
}

func TestClosePositionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedSettings(t)
	env.paper.SetPrice("NVDA", 850)
	require.NoError(t, env.store.Positions.Upsert(context.Background(), persistence.Position{
		Symbol: "NVDA", TradingMode: "paper", Quantity: 5, AvgCost: 800,
		OpenedAt: time.Now().Add(-48 * time.Hour),
	}))

	rec := env.do(t, http.MethodPost, "/api/v1/positions/NVDA/close", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := env.store.Positions.Get(context.Background(), "paper", "NVDA")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	closed, err := env.store.Closed.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, persistence.CloseManual, closed[0].Reason)
}

func TestClosePositionNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/positions/ZZZZ/close", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Profiles.Put(context.Background(), persistence.Profile{
		Name: "momentum", ScheduleEnabled: true, IntervalMinutes: 15,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/scheduler/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Running bool              `json:"running"`
		Jobs    []json.RawMessage `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)
	assert.Len(t, status.Jobs, 1)

	rec = env.do(t, http.MethodPost, "/api/v1/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/scheduler/status", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
}

func TestRateLimitEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/ratelimit/fmp", map[string]int{
		"max_per_minute": 50,
		"max_per_day":    1000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var quota ratelimit.Quota
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quota))
	assert.Equal(t, 50, quota.MaxPerMinute)
	assert.Equal(t, 1000, quota.MaxPerDay)

	rec = env.do(t, http.MethodPut, "/api/v1/ratelimit/fmp", map[string]int{
		"max_per_minute": 0,
		"max_per_day":    1000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBacktestEndpoint(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.store.Profiles.Put(context.Background(), persistence.Profile{
		Name: "momentum", Params: `{"min_change_pct":1}`,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/backtest", map[string]interface{}{
		"profile_id":      id,
		"start":           "2025-01-01",
		"end":             "2025-03-31",
		"initial_capital": 10000,
		"position_size":   1000,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result backtest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, backtest.DataModeSimulated, result.DataMode)
	assert.Equal(t, 10000.0, result.InitialCapital)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autotrader")
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Code)
}

func TestScanEndpointUnknownProfile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/scan", map[string]int{"profile_id": 99})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
