// Package risk implements the pre-trade policy gate. Every buy intent passes
// seven checks in fixed order; the first failing check's reason wins. Sells
// always pass: closing risk is not opening risk.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

// ErrSettingsMissing means the RiskSettings singleton could not be loaded.
// Fatal to order execution; liquidation is exempt from the gate.
var ErrSettingsMissing = errors.New("risk settings missing or unreadable")

// Result is the outcome of one evaluation.
type Result struct {
	Passed bool   `json:"passed"`
	Check  string `json:"check,omitempty"`  // name of the failing check
	Reason string `json:"reason,omitempty"` // human-readable rejection reason
}

func passed() Result { return Result{Passed: true} }

func rejected(check, reason string) Result {
	return Result{Passed: false, Check: check, Reason: reason}
}

// Gate evaluates proposed trades against configured limits. Checks 1-6 read
// only local persisted state and always complete; the buying-power check (7)
// is best-effort and skipped when the broker lookup fails.
type Gate struct {
	store  *persistence.Store
	broker broker.Client
	mode   string
	now    func() time.Time
}

// NewGate creates a risk gate for one trading mode.
func NewGate(store *persistence.Store, brokerClient broker.Client, tradingMode string) *Gate {
	return &Gate{
		store:  store,
		broker: brokerClient,
		mode:   tradingMode,
		now:    time.Now,
	}
}

// Evaluate runs the ordered checks for a proposed trade. A rejection is an
// expected outcome, not an error; the error return is reserved for a broken
// settings store.
func (g *Gate) Evaluate(ctx context.Context, symbol string, side broker.Side, estimatedCost float64) (Result, error) {
	if side == broker.Sell {
		return passed(), nil
	}

	settings, err := g.store.Settings.Get(ctx)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Result{}, ErrSettingsMissing
		}
		return Result{}, fmt.Errorf("%w: %v", ErrSettingsMissing, err)
	}

	// 1. Risk management must be switched on.
	if !settings.Enabled {
		return rejected("enabled", "risk management not configured"), nil
	}

	// 2. Per-transaction cap.
	if estimatedCost > settings.MaxTransactionAmt {
		return rejected("max_transaction", fmt.Sprintf(
			"Transaction amount $%.2f exceeds maximum $%.2f",
			estimatedCost, settings.MaxTransactionAmt)), nil
	}

	// 3. Daily spend cap.
	today := persistence.DateKey(g.now())
	daySpent, err := g.store.Stats.SpendSince(ctx, today)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read daily spend: %w", err)
	}
	if daySpent+estimatedCost > settings.DailySpendLimit {
		return rejected("daily_limit", fmt.Sprintf(
			"Daily spend limit reached: $%.2f spent + $%.2f would exceed $%.2f",
			daySpent, estimatedCost, settings.DailySpendLimit)), nil
	}

	// 4. Trailing-7-day spend cap.
	weekStart := persistence.DateKey(g.now().AddDate(0, 0, -6))
	weekSpent, err := g.store.Stats.SpendSince(ctx, weekStart)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read weekly spend: %w", err)
	}
	if weekSpent+estimatedCost > settings.WeeklySpendLimit {
		return rejected("weekly_limit", fmt.Sprintf(
			"Weekly spend limit reached: $%.2f spent + $%.2f would exceed $%.2f",
			weekSpent, estimatedCost, settings.WeeklySpendLimit)), nil
	}

	// 5/6. Position-count and duplicate checks share one lookup.
	existing, err := g.store.Positions.Get(ctx, g.mode, symbol)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return Result{}, fmt.Errorf("failed to look up position: %w", err)
	}

	if existing == nil {
		count, err := g.store.Positions.Count(ctx, g.mode)
		if err != nil {
			return Result{}, fmt.Errorf("failed to count positions: %w", err)
		}
		if count >= settings.MaxPositions {
			return rejected("max_positions", fmt.Sprintf(
				"Maximum concurrent positions (%d) reached", settings.MaxPositions)), nil
		}
	} else if !settings.AllowDuplicates {
		return rejected("duplicate_position", fmt.Sprintf(
			"Position already open in %s and duplicates are not allowed", symbol)), nil
	}

	// 7. Buying power, best effort. The broker remains the final authority,
	// so a failed lookup skips the check instead of blocking the trade.
	if g.broker != nil {
		account, err := g.broker.GetAccountInfo(ctx)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).
				Msg("buying-power check skipped: account lookup failed")
		} else if estimatedCost > account.BuyingPower {
			return rejected("buying_power", fmt.Sprintf(
				"Transaction amount $%.2f exceeds buying power $%.2f",
				estimatedCost, account.BuyingPower)), nil
		}
	}

	return passed(), nil
}

// Settings returns the current risk settings.
func (g *Gate) Settings(ctx context.Context) (*persistence.RiskSettings, error) {
	s, err := g.store.Settings.Get(ctx)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrSettingsMissing
		}
		return nil, err
	}
	return s, nil
}
