// Package scan defines the screening collaborator invoked by the scheduler,
// plus a built-in price-change screener whose rule the backtest engine
// shares.
package scan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

// Match is one symbol that satisfied a profile's rule.
type Match struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Score  float64 `json:"score"`
}

// Scanner evaluates a profile's screening rule and returns matches.
type Scanner interface {
	Scan(ctx context.Context, profile persistence.Profile) ([]Match, error)
}

// Params is the serialized rule parameter set carried by a profile.
type Params struct {
	// Symbols to screen; empty means the default universe.
	Universe []string `json:"universe,omitempty"`
	// MinChangePct admits a symbol when its intraday move is at least this
	// many percent (negative values screen for dips).
	MinChangePct float64 `json:"min_change_pct"`
}

// DefaultUniverse is the fixed candidate set used when a profile names none.
var DefaultUniverse = []string{"AAPL", "MSFT", "NVDA", "GOOGL", "AMZN", "META", "TSLA", "SPY"}

// ParseParams decodes a profile's parameter set.
func ParseParams(raw string) (Params, error) {
	var p Params
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("failed to parse profile params: %w", err)
	}
	return p, nil
}

// RuleMatches is the shared entry rule: does a bar's move satisfy the
// profile threshold. The backtest engine replays this same rule.
func RuleMatches(p Params, open, close float64) bool {
	if open == 0 {
		return false
	}
	changePct := (close - open) / open * 100
	if p.MinChangePct >= 0 {
		return changePct >= p.MinChangePct
	}
	return changePct <= p.MinChangePct
}

// BarScanner screens the candidate universe against latest bars from the
// broker's data feed.
type BarScanner struct {
	broker broker.Client
}

// NewBarScanner creates the built-in screener.
func NewBarScanner(brokerClient broker.Client) *BarScanner {
	return &BarScanner{broker: brokerClient}
}

// Scan evaluates the profile rule over its universe. Individual symbol
// failures are logged and skipped; the scan itself only fails when the
// parameter set is unreadable.
func (s *BarScanner) Scan(ctx context.Context, profile persistence.Profile) ([]Match, error) {
	params, err := ParseParams(profile.Params)
	if err != nil {
		return nil, err
	}

	universe := params.Universe
	if len(universe) == 0 {
		universe = DefaultUniverse
	}

	var matches []Match
	for _, symbol := range universe {
		bar, err := s.broker.GetLatestBar(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Int64("profile", profile.ID).
				Msg("scan: bar fetch failed, symbol skipped")
			continue
		}
		if RuleMatches(params, bar.Open, bar.Close) {
			matches = append(matches, Match{
				Symbol: symbol,
				Price:  bar.Close,
				Score:  (bar.Close - bar.Open) / bar.Open * 100,
			})
		}
	}
	return matches, nil
}
