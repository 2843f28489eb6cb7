package backtest

import "math"

// ProfitFactorCap stands in for infinity when wins exist and losses are zero.
const ProfitFactorCap = 9999.0

// tradingDaysPerYear drives the Sharpe annualization factor.
const tradingDaysPerYear = 252.0

// aggregate fills the result's summary metrics from its trade list. A run
// with zero trades yields all-zero metrics, never NaN.
func aggregate(res *Result, initialCapital float64, stepDays int, annualize bool) {
	res.TotalTrades = len(res.Trades)
	if res.TotalTrades == 0 {
		return
	}

	for _, t := range res.Trades {
		if t.ProfitLoss >= 0 {
			res.WinningTrades++
			res.TotalWinPL += t.ProfitLoss
		} else {
			res.LosingTrades++
			res.TotalLossPL += t.ProfitLoss
		}
	}
	res.WinRate = float64(res.WinningTrades) / float64(res.TotalTrades) * 100
	if res.WinningTrades > 0 {
		res.AvgWinPL = res.TotalWinPL / float64(res.WinningTrades)
	}
	if res.LosingTrades > 0 {
		res.AvgLossPL = res.TotalLossPL / float64(res.LosingTrades)
	}

	res.ProfitFactor = profitFactor(res.TotalWinPL, res.TotalLossPL)
	res.SharpeRatio = sharpe(res.Trades, stepDays, annualize)
	res.MaxDrawdown = maxDrawdown(res.Trades, initialCapital)
}

func profitFactor(totalWin, totalLoss float64) float64 {
	lossAbs := math.Abs(totalLoss)
	switch {
	case totalWin == 0 && lossAbs == 0:
		return 0
	case lossAbs == 0:
		return ProfitFactorCap
	default:
		return totalWin / lossAbs
	}
}

// sharpe is the simplified per-trade ratio: mean percent return over its
// population standard deviation, annualized only for real-price runs.
func sharpe(trades []Trade, stepDays int, annualize bool) float64 {
	n := float64(len(trades))
	var sum float64
	for _, t := range trades {
		sum += t.ProfitLossPercent
	}
	mean := sum / n

	var variance float64
	for _, t := range trades {
		d := t.ProfitLossPercent - mean
		variance += d * d
	}
	variance /= n
	if variance == 0 {
		return 0
	}
	ratio := mean / math.Sqrt(variance)
	if annualize && stepDays > 0 {
		ratio *= math.Sqrt(tradingDaysPerYear / float64(stepDays))
	}
	return ratio
}

// maxDrawdown tracks a running equity peak over the ordered trade sequence
// and returns the deepest peak-to-trough decline in percent.
func maxDrawdown(trades []Trade, initialCapital float64) float64 {
	equity := initialCapital
	peak := equity
	var worst float64
	for _, t := range trades {
		equity += t.ProfitLoss
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
