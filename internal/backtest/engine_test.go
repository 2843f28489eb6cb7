package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

type fakePrices struct {
	bars map[string][]broker.Bar
}

func (f *fakePrices) Daily(_ context.Context, symbol string, from, to time.Time) ([]broker.Bar, error) {
	var out []broker.Bar
	for _, b := range f.bars[symbol] {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func bar(sym string, ts time.Time, open, close float64) broker.Bar {
	return broker.Bar{Symbol: sym, Open: open, Close: close, High: close, Low: open, Timestamp: ts}
}

func momentumProfile(params string) persistence.Profile {
	return persistence.Profile{ID: 1, Name: "momentum", Params: params}
}

func baseRequest(prices string) Request {
	return Request{
		Profile:        momentumProfile(prices),
		Start:          day(1),
		End:            day(29),
		InitialCapital: 10_000,
		PositionSize:   1_000,
	}
}

func TestRunRejectsBadInputs(t *testing.T) {
	eng := New(nil)
	ctx := context.Background()

	req := baseRequest(`{"min_change_pct":1}`)
	req.End = req.Start
	_, err := eng.Run(ctx, req)
	assert.Error(t, err)

	req = baseRequest(`{"min_change_pct":1}`)
	req.InitialCapital = 0
	_, err = eng.Run(ctx, req)
	assert.Error(t, err)

	req = baseRequest(`{"min_change_pct":1}`)
	req.PositionSize = -5
	_, err = eng.Run(ctx, req)
	assert.Error(t, err)
}

func TestZeroTradesYieldsZeroMetrics(t *testing.T) {
	// A 50% single-step move never happens in this series, so nothing
	// ever enters.
	prices := &fakePrices{bars: map[string][]broker.Bar{
		"TST": {
			bar("TST", day(1), 100, 102),
			bar("TST", day(8), 102, 104),
			bar("TST", day(15), 104, 106),
			bar("TST", day(22), 106, 108),
			bar("TST", day(29), 108, 110),
		},
	}}
	req := baseRequest(`{"universe":["TST"],"min_change_pct":50}`)

	res, err := New(prices).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, DataModeHistorical, res.DataMode)
	assert.Equal(t, 0, res.TotalTrades)
	assert.Zero(t, res.WinRate)
	assert.Zero(t, res.ProfitFactor)
	assert.Zero(t, res.SharpeRatio)
	assert.Zero(t, res.MaxDrawdown)
	assert.Equal(t, req.InitialCapital, res.FinalCapital)
}

func TestTakeProfitExitBooksFifteenPercent(t *testing.T) {
	prices := &fakePrices{bars: map[string][]broker.Bar{
		"TST": {
			bar("TST", day(1), 100, 102), // +2% matches, entry at 102
			bar("TST", day(8), 120, 120), // +17.6% from entry, target trips
			bar("TST", day(15), 120, 120),
			bar("TST", day(22), 120, 120),
			bar("TST", day(29), 120, 120),
		},
	}}
	req := baseRequest(`{"universe":["TST"],"min_change_pct":1}`)

	res, err := New(prices).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, ExitTakeProfit, tr.ExitReason)
	assert.Equal(t, 102.0, tr.EntryPrice)
	assert.InDelta(t, 102*1.15, tr.ExitPrice, 1e-9)
	assert.Equal(t, 15.0, tr.ProfitLossPercent)
	assert.Equal(t, 9, tr.Quantity) // floor(1000/102)

	assert.Equal(t, 1, res.WinningTrades)
	assert.Equal(t, ProfitFactorCap, res.ProfitFactor)
	assert.Equal(t, 100.0, res.WinRate)
}

func TestStopLossExitBooksMinusFivePercent(t *testing.T) {
	prices := &fakePrices{bars: map[string][]broker.Bar{
		"TST": {
			bar("TST", day(1), 100, 102),
			bar("TST", day(8), 102, 90), // -11.8% from entry, stop trips
			bar("TST", day(15), 90, 90),
			bar("TST", day(22), 90, 90),
			bar("TST", day(29), 90, 90),
		},
	}}
	req := baseRequest(`{"universe":["TST"],"min_change_pct":1}`)

	res, err := New(prices).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, ExitStopLoss, tr.ExitReason)
	assert.InDelta(t, 102*0.95, tr.ExitPrice, 1e-9)
	assert.Equal(t, -5.0, tr.ProfitLossPercent)

	assert.Equal(t, 1, res.LosingTrades)
	assert.Zero(t, res.WinningTrades)
	assert.Zero(t, res.WinRate)
	assert.Less(t, res.FinalCapital, res.InitialCapital)
	assert.Greater(t, res.MaxDrawdown, 0.0)
}

func TestForceCloseAtWindowEnd(t *testing.T) {
	// Drifts up but never reaches +15%, so the window end closes it at
	// the actual final price.
	prices := &fakePrices{bars: map[string][]broker.Bar{
		"TST": {
			bar("TST", day(1), 100, 102),
			bar("TST", day(8), 102, 105),
			bar("TST", day(15), 105, 107),
			bar("TST", day(22), 107, 109),
			bar("TST", day(29), 109, 110),
		},
	}}
	req := baseRequest(`{"universe":["TST"],"min_change_pct":1}`)

	res, err := New(prices).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, ExitEndOfWindow, tr.ExitReason)
	assert.Equal(t, 110.0, tr.ExitPrice)
	assert.InDelta(t, (110.0-102.0)/102.0*100, tr.ProfitLossPercent, 1e-9)
}

func TestSimulatedModeIsDeterministic(t *testing.T) {
	req := baseRequest(`{"min_change_pct":1}`)
	req.End = day(1).AddDate(0, 3, 0)

	eng := New(nil)
	first, err := eng.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := eng.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, DataModeSimulated, first.DataMode)
	assert.Equal(t, first, second)
}

func TestMaxOpenLimitHolds(t *testing.T) {
	// Every symbol matches every step; the cap keeps concurrent
	// positions to one, so at most one trade is open at a time.
	bars := func(sym string) []broker.Bar {
		return []broker.Bar{
			bar(sym, day(1), 100, 102),
			bar(sym, day(8), 102, 104),
			bar(sym, day(15), 104, 106),
			bar(sym, day(22), 106, 108),
			bar(sym, day(29), 108, 110),
		}
	}
	prices := &fakePrices{bars: map[string][]broker.Bar{
		"AAA": bars("AAA"), "BBB": bars("BBB"),
	}}
	req := baseRequest(`{"universe":["AAA","BBB"],"min_change_pct":1}`)
	req.MaxOpen = 1

	res, err := New(prices).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "AAA", res.Trades[0].Symbol)
}

func TestStepDates(t *testing.T) {
	steps := stepDates(day(1), day(29), 7)
	require.Len(t, steps, 5)
	assert.Equal(t, day(1), steps[0])
	assert.Equal(t, day(29), steps[4])

	// Ragged window still ends exactly on the end date.
	steps = stepDates(day(1), day(25), 7)
	require.Len(t, steps, 5)
	assert.Equal(t, day(25), steps[4])
}
