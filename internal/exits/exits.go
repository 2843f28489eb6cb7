// Package exits decides whether an open position's unrealized P/L has
// crossed its configured stop-loss or take-profit threshold.
package exits

import (
	"fmt"
	"math"

	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

// Result is one threshold evaluation.
type Result struct {
	ShouldExit  bool                    `json:"should_exit"`
	Reason      persistence.CloseReason `json:"reason,omitempty"`
	TriggeredBy string                  `json:"triggered_by,omitempty"`
	PLPercent   float64                 `json:"pl_percent"`
}

// PLPercent computes the unrealized return of a position at the given price.
func PLPercent(avgCost, current float64) float64 {
	if avgCost == 0 {
		return 0
	}
	return (current - avgCost) / avgCost * 100
}

// Evaluate checks a position's thresholds at the given price. Stop-loss has
// precedence over take-profit; a position with neither configured never
// triggers.
func Evaluate(pos persistence.Position, currentPrice float64) Result {
	plPct := PLPercent(pos.AvgCost, currentPrice)
	res := Result{PLPercent: plPct}

	if pos.StopLossPct != nil {
		threshold := math.Abs(*pos.StopLossPct)
		if plPct <= -threshold {
			res.ShouldExit = true
			res.Reason = persistence.CloseStopLoss
			res.TriggeredBy = fmt.Sprintf("P/L %.2f%% breached stop-loss -%.2f%%", plPct, threshold)
			return res
		}
	}

	if pos.TakeProfitPct != nil && plPct >= *pos.TakeProfitPct {
		res.ShouldExit = true
		res.Reason = persistence.CloseTakeProfit
		res.TriggeredBy = fmt.Sprintf("P/L %.2f%% reached take-profit %.2f%%", plPct, *pos.TakeProfitPct)
	}

	return res
}
