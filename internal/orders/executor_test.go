package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence/memory"
	"github.com/EnragedAntelope/autotrader-sub001/internal/risk"
)

func newTestExecutor(t *testing.T, settings persistence.RiskSettings) (*Executor, *broker.Paper, *persistence.Store) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Settings.Put(context.Background(), settings))

	paper := broker.NewPaper(1_000_000)
	gate := risk.NewGate(store, paper, "paper")
	exec := NewExecutor(store, paper, gate, nil, nil, nil, "paper")
	return exec, paper, store
}

func permissiveSettings() persistence.RiskSettings {
	return persistence.RiskSettings{
		Enabled:           true,
		MaxTransactionAmt: 100000,
		DailySpendLimit:   500000,
		WeeklySpendLimit:  1000000,
		MaxPositions:      10,
	}
}

func TestExecute_InvalidOrderNeverTouchesBrokerOrStore(t *testing.T) {
	exec, paper, store := newTestExecutor(t, permissiveSettings())
	paper.FailSubmissions(errors.New("broker must not be called"))

	cases := []Request{
		{Symbol: "", Quantity: 1, Side: broker.Buy, OrderType: broker.Market},
		{Symbol: "AAPL", Quantity: 0, Side: broker.Buy, OrderType: broker.Market},
		{Symbol: "AAPL", Quantity: -5, Side: broker.Buy, OrderType: broker.Market},
		{Symbol: "AAPL", Quantity: 1, Side: "hold", OrderType: broker.Market},
		{Symbol: "AAPL", Quantity: 1, Side: broker.Buy, OrderType: "iceberg"},
		{Symbol: "AAPL", Quantity: 1, Side: broker.Buy, OrderType: broker.Limit},
		{Symbol: "AAPL", Quantity: 1, Side: broker.Buy, OrderType: broker.Stop},
		{Symbol: "AAPL", Quantity: 1, Side: broker.Buy, OrderType: broker.StopLimit,
			LimitPrice: f(10)}, // missing stop price
	}

	for _, req := range cases {
		_, err := exec.Execute(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidOrder, "request %+v", req)
	}

	trades, err := store.Trades.List(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, trades, "validation failures must not persist trade records")
}

func TestExecute_RiskRejectionPersistsRejectedRecord(t *testing.T) {
	settings := permissiveSettings()
	settings.MaxTransactionAmt = 10000
	exec, paper, store := newTestExecutor(t, settings)
	paper.SetPrice("AAPL", 500)

	out, err := exec.Execute(context.Background(), Request{
		Symbol: "AAPL", Quantity: 100, Side: broker.Buy, OrderType: broker.Market,
	})
	require.NoError(t, err, "a risk rejection is not a system failure")
	assert.False(t, out.Executed)
	assert.Contains(t, out.RejectReason, "exceeds maximum")

	trades, err := store.Trades.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, persistence.TradeRejected, trades[0].Status)
	assert.Contains(t, trades[0].RejectReason, "exceeds maximum")
}

func TestExecute_SuccessfulBuy(t *testing.T) {
	exec, paper, store := newTestExecutor(t, permissiveSettings())
	paper.SetPrice("AAPL", 185.5)

	out, err := exec.Execute(context.Background(), Request{
		Symbol: "AAPL", Quantity: 10, Side: broker.Buy, OrderType: broker.Market,
	})
	require.NoError(t, err)
	assert.True(t, out.Executed)
	assert.InDelta(t, 1855.0, out.EstimatedCost, 1e-9)
	require.NotNil(t, out.Order)
	assert.NotEmpty(t, out.Order.ID)

	trades, err := store.Trades.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, out.Order.ID, trades[0].BrokerOrderID)

	today := persistence.DateKey(out.Trade.CreatedAt)
	stat, err := store.Stats.Get(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, stat.OrdersPlaced)
	assert.InDelta(t, 1855.0, stat.TotalSpent, 1e-9)
}

func TestExecute_LimitPriceDrivesCostEstimate(t *testing.T) {
	exec, paper, _ := newTestExecutor(t, permissiveSettings())
	paper.SetPrice("AAPL", 200) // live quote differs from limit

	out, err := exec.Execute(context.Background(), Request{
		Symbol: "AAPL", Quantity: 10, Side: broker.Buy,
		OrderType: broker.Limit, LimitPrice: f(150),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, out.EstimatedCost, 1e-9)
}

func TestExecute_NilQuoteFallsBackToBarClose(t *testing.T) {
	exec, paper, _ := newTestExecutor(t, permissiveSettings())
	paper.SetPrice("AAPL", 120)
	paper.SetQuoteUnavailable(true) // markets closed, bar still serves 120

	out, err := exec.Execute(context.Background(), Request{
		Symbol: "AAPL", Quantity: 5, Side: broker.Buy, OrderType: broker.Market,
	})
	require.NoError(t, err)
	assert.InDelta(t, 600.0, out.EstimatedCost, 1e-9)
}

func TestExecute_BrokerFailureRecordedAndPropagated(t *testing.T) {
	exec, paper, store := newTestExecutor(t, permissiveSettings())
	paper.SetPrice("AAPL", 100)
	paper.FailSubmissions(errors.New("gateway timeout"))

	_, err := exec.Execute(context.Background(), Request{
		Symbol: "AAPL", Quantity: 1, Side: broker.Buy, OrderType: broker.Market,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidOrder)

	trades, listErr := store.Trades.List(context.Background(), 10)
	require.NoError(t, listErr)
	require.Len(t, trades, 1)
	assert.Equal(t, persistence.TradeRejected, trades[0].Status)
	assert.Contains(t, trades[0].RejectReason, "gateway timeout")
}

func TestExecute_SellBypassesRiskChecks(t *testing.T) {
	settings := permissiveSettings()
	settings.Enabled = false // would reject any buy
	exec, paper, _ := newTestExecutor(t, settings)
	paper.SetPrice("AAPL", 100)

	out, err := exec.Execute(context.Background(), Request{
		Symbol: "AAPL", Quantity: 3, Side: broker.Sell, OrderType: broker.Market,
	})
	require.NoError(t, err)
	assert.True(t, out.Executed, "closing risk is exempt from the gate")
}

func TestExecute_FilledBuyOpensPosition(t *testing.T) {
	exec, paper, store := newTestExecutor(t, permissiveSettings())
	paper.SetPrice("AAPL", 185.5)

	out, err := exec.Execute(context.Background(), Request{
		Symbol: "AAPL", Quantity: 10, Side: broker.Buy, OrderType: broker.Market,
	})
	require.NoError(t, err)
	require.True(t, out.Executed)

	pos, err := store.Positions.Get(context.Background(), "paper", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.InDelta(t, 185.5, pos.AvgCost, 1e-9)
	assert.InDelta(t, 1855.0, pos.CurrentValue, 1e-9)
}

func TestOpenFromFill_AveragesIntoExistingPosition(t *testing.T) {
	settings := permissiveSettings()
	settings.AllowDuplicates = true
	exec, paper, store := newTestExecutor(t, settings)
	paper.SetPrice("AAPL", 100)

	_, err := exec.Execute(context.Background(), Request{
		Symbol: "AAPL", Quantity: 10, Side: broker.Buy, OrderType: broker.Market,
	})
	require.NoError(t, err)

	paper.SetPrice("AAPL", 200)
	_, err = exec.Execute(context.Background(), Request{
		Symbol: "AAPL", Quantity: 10, Side: broker.Buy, OrderType: broker.Market,
	})
	require.NoError(t, err)

	pos, err := store.Positions.Get(context.Background(), "paper", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(20), pos.Quantity)
	assert.InDelta(t, 150.0, pos.AvgCost, 1e-9, "cost basis averages across fills")
	assert.InDelta(t, 4000.0, pos.CurrentValue, 1e-9)
}

func TestReconcilePending_FilledBuyOpensPosition(t *testing.T) {
	exec, paper, store := newTestExecutor(t, permissiveSettings())
	paper.SetPrice("AAPL", 185.5)
	paper.HoldFills(true)
	ctx := context.Background()

	out, err := exec.Execute(ctx, Request{
		Symbol: "AAPL", Quantity: 10, Side: broker.Buy, OrderType: broker.Market,
	})
	require.NoError(t, err)
	require.True(t, out.Executed)
	assert.Equal(t, persistence.TradePending, out.Trade.Status)

	_, err = store.Positions.Get(ctx, "paper", "AAPL")
	assert.ErrorIs(t, err, persistence.ErrNotFound, "no position until the order fills")

	// A pass before the fill lands leaves the trade pending.
	require.NoError(t, exec.ReconcilePending(ctx))
	pending, err := store.Trades.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	paper.SetPrice("AAPL", 186.0)
	require.NoError(t, paper.FillOrder(out.Order.ID))
	require.NoError(t, exec.ReconcilePending(ctx))

	pending, err = store.Trades.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	trades, err := store.Trades.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, persistence.TradeFilled, trades[0].Status)

	pos, err := store.Positions.Get(ctx, "paper", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.InDelta(t, 186.0, pos.AvgCost, 1e-9, "position opens at the actual fill price")

	today := persistence.DateKey(out.Trade.CreatedAt)
	stat, err := store.Stats.Get(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, stat.OrdersFilled)
}

func TestReconcilePending_DeadOrderMarkedCancelled(t *testing.T) {
	exec, paper, store := newTestExecutor(t, permissiveSettings())
	paper.SetPrice("AAPL", 185.5)
	paper.HoldFills(true)
	ctx := context.Background()

	out, err := exec.Execute(ctx, Request{
		Symbol: "AAPL", Quantity: 10, Side: broker.Buy, OrderType: broker.Market,
	})
	require.NoError(t, err)

	require.NoError(t, paper.CancelOrder(out.Order.ID))
	require.NoError(t, exec.ReconcilePending(ctx))

	trades, err := store.Trades.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, persistence.TradeCancelled, trades[0].Status)
	assert.Contains(t, trades[0].RejectReason, "canceled")

	_, err = store.Positions.Get(ctx, "paper", "AAPL")
	assert.ErrorIs(t, err, persistence.ErrNotFound, "a cancelled order opens nothing")
}

func TestOpenFromFill_AppliesDefaultThresholds(t *testing.T) {
	settings := permissiveSettings()
	settings.DefaultStopLossPct = f(5)
	settings.DefaultTakeProfitPct = f(15)
	exec, _, store := newTestExecutor(t, settings)

	require.NoError(t, exec.OpenFromFill(context.Background(), "AAPL", 10, 100, nil, nil))

	pos, err := store.Positions.Get(context.Background(), "paper", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos.StopLossPct)
	require.NotNil(t, pos.TakeProfitPct)
	assert.Equal(t, 5.0, *pos.StopLossPct)
	assert.Equal(t, 15.0, *pos.TakeProfitPct)
}

func f(v float64) *float64 { return &v }
