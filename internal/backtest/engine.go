// Package backtest replays the trading thresholds over a price series,
// offline and without touching the live loop's budget, gate, or broker state.
package backtest

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/exits"
	"github.com/EnragedAntelope/autotrader-sub001/internal/scan"
)

// Simplified threshold model: every simulated position carries the fixed
// stop/target pair, and threshold exits book exactly these percentages.
const (
	stopLossPct   = 5.0
	takeProfitPct = 15.0
)

// Engine runs backtests. A nil prices source selects the synthetic walk.
type Engine struct {
	prices HistoricalPrices
}

// New creates an engine over an optional historical price source.
func New(prices HistoricalPrices) *Engine {
	return &Engine{prices: prices}
}

type simPosition struct {
	symbol     string
	entryDate  time.Time
	entryPrice float64
	qty        int
}

// Run executes one backtest. Pure over its inputs: two runs with the same
// request and price series produce identical results.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("invalid window: end %s not after start %s",
			req.End.Format("2006-01-02"), req.Start.Format("2006-01-02"))
	}
	if req.InitialCapital <= 0 {
		return nil, fmt.Errorf("invalid initial capital %.2f", req.InitialCapital)
	}
	if req.PositionSize <= 0 {
		return nil, fmt.Errorf("invalid position size %.2f", req.PositionSize)
	}
	stepDays := req.StepDays
	if stepDays <= 0 {
		stepDays = DefaultStepDays
	}
	maxOpen := req.MaxOpen
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpen
	}

	params, err := scan.ParseParams(req.Profile.Params)
	if err != nil {
		return nil, err
	}
	universe := params.Universe
	if len(universe) == 0 {
		universe = scan.DefaultUniverse
	}

	steps := stepDates(req.Start, req.End, stepDays)
	series, mode, err := e.buildSeries(ctx, universe, steps, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	var (
		trades  []Trade
		open    []simPosition
		capital = req.InitialCapital
	)

	for i, day := range steps {
		// Close positions whose thresholds tripped at this step's price.
		remaining := open[:0]
		for _, pos := range open {
			bar, ok := series[pos.symbol]
			if !ok || i >= len(bar) {
				remaining = append(remaining, pos)
				continue
			}
			plPct := exits.PLPercent(pos.entryPrice, bar[i].Close)
			switch {
			case plPct <= -stopLossPct:
				capital += closeTrade(&trades, pos, day, pos.entryPrice*0.95, -stopLossPct, ExitStopLoss)
			case plPct >= takeProfitPct:
				capital += closeTrade(&trades, pos, day, pos.entryPrice*1.15, takeProfitPct, ExitTakeProfit)
			default:
				remaining = append(remaining, pos)
			}
		}
		open = remaining

		if i == len(steps)-1 {
			break
		}

		// At most one entry per step, first matching symbol wins.
		if len(open) >= maxOpen {
			continue
		}
		for _, sym := range universe {
			bars, ok := series[sym]
			if !ok || i >= len(bars) {
				continue
			}
			if holding(open, sym) || !scan.RuleMatches(params, bars[i].Open, bars[i].Close) {
				continue
			}
			price := bars[i].Close
			if price <= 0 {
				continue
			}
			qty := int(math.Floor(req.PositionSize / price))
			cost := float64(qty) * price
			if qty < 1 || cost > capital {
				continue
			}
			capital -= cost
			open = append(open, simPosition{symbol: sym, entryDate: day, entryPrice: price, qty: qty})
			break
		}
	}

	// Force-close survivors at the final available price.
	last := len(steps) - 1
	endDay := steps[last]
	for _, pos := range open {
		exitPrice := pos.entryPrice
		if bars, ok := series[pos.symbol]; ok && last < len(bars) {
			exitPrice = bars[last].Close
		}
		plPct := exits.PLPercent(pos.entryPrice, exitPrice)
		capital += closeTrade(&trades, pos, endDay, exitPrice, plPct, ExitEndOfWindow)
	}

	res := &Result{
		ProfileName:    req.Profile.Name,
		Start:          req.Start,
		End:            req.End,
		StepDays:       stepDays,
		DataMode:       mode,
		InitialCapital: req.InitialCapital,
		FinalCapital:   capital,
		Trades:         trades,
	}
	aggregate(res, req.InitialCapital, stepDays, mode == DataModeHistorical)
	return res, nil
}

// closeTrade books one round trip and returns the proceeds added back to
// capital. The position's cost basis already left capital at entry.
func closeTrade(trades *[]Trade, pos simPosition, day time.Time, exitPrice, plPct float64, reason string) float64 {
	pl := float64(pos.qty) * (exitPrice - pos.entryPrice)
	*trades = append(*trades, Trade{
		Symbol:            pos.symbol,
		EntryDate:         pos.entryDate,
		ExitDate:          day,
		EntryPrice:        pos.entryPrice,
		ExitPrice:         exitPrice,
		Quantity:          pos.qty,
		ProfitLoss:        pl,
		ProfitLossPercent: plPct,
		ExitReason:        reason,
	})
	return float64(pos.qty) * exitPrice
}

func holding(open []simPosition, symbol string) bool {
	for _, p := range open {
		if p.symbol == symbol {
			return true
		}
	}
	return false
}

func stepDates(start, end time.Time, stepDays int) []time.Time {
	var out []time.Time
	for t := start; !t.After(end); t = t.AddDate(0, 0, stepDays) {
		out = append(out, t)
	}
	if len(out) == 0 || out[len(out)-1].Before(end) {
		out = append(out, end)
	}
	return out
}

// buildSeries materializes one bar per step per symbol, from the historical
// source when one is configured, otherwise from the deterministic walk.
func (e *Engine) buildSeries(ctx context.Context, universe []string, steps []time.Time,
	start, end time.Time) (map[string][]broker.Bar, string, error) {
	series := make(map[string][]broker.Bar, len(universe))

	if e.prices == nil {
		for _, sym := range universe {
			series[sym] = syntheticWalk(sym, start, len(steps))
		}
		return series, DataModeSimulated, nil
	}

	for _, sym := range universe {
		daily, err := e.prices.Daily(ctx, sym, start, end)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("historical series unavailable, symbol excluded")
			continue
		}
		if len(daily) == 0 {
			continue
		}
		series[sym] = sampleAtSteps(daily, steps)
	}
	if len(series) == 0 {
		return nil, "", fmt.Errorf("no historical data for any of %d symbols", len(universe))
	}
	return series, DataModeHistorical, nil
}

// sampleAtSteps picks, for each step date, the latest daily bar on or before
// it, falling back to the earliest bar before the series begins.
func sampleAtSteps(daily []broker.Bar, steps []time.Time) []broker.Bar {
	out := make([]broker.Bar, len(steps))
	idx := 0
	for i, day := range steps {
		for idx+1 < len(daily) && !daily[idx+1].Timestamp.After(day) {
			idx++
		}
		out[i] = daily[idx]
	}
	return out
}

// syntheticWalk generates a reproducible per-symbol price path. The seed
// depends only on symbol and start date, so the same request replays the
// same series.
func syntheticWalk(symbol string, start time.Time, n int) []broker.Bar {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(start.UTC().Format("2006-01-02")))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	price := 50 + rng.Float64()*450
	bars := make([]broker.Bar, n)
	for i := range bars {
		open := price
		// Per-step move inside ±6%, enough to reach either threshold
		// over a few steps without being pure noise.
		price *= 1 + (rng.Float64()*12-6)/100
		bars[i] = broker.Bar{
			Symbol: symbol,
			Open:   open,
			High:   math.Max(open, price) * 1.01,
			Low:    math.Min(open, price) * 0.99,
			Close:  price,
			Volume: 1_000_000,
		}
	}
	return bars
}
