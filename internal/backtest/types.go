package backtest

import (
	"context"
	"time"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

// Data modes reported on a result. A run prices every step from one source,
// never a mix.
const (
	DataModeHistorical = "historical"
	DataModeSimulated  = "simulated"
)

// Exit reasons recorded on simulated trades.
const (
	ExitStopLoss    = "stop_loss"
	ExitTakeProfit  = "take_profit"
	ExitEndOfWindow = "end_of_window"
)

// DefaultStepDays is the simulated clock advance per step.
const DefaultStepDays = 7

// DefaultMaxOpen caps concurrent simulated positions.
const DefaultMaxOpen = 5

// HistoricalPrices supplies daily bars for real-price runs. When no source is
// configured the engine falls back to a deterministic synthetic walk.
type HistoricalPrices interface {
	Daily(ctx context.Context, symbol string, from, to time.Time) ([]broker.Bar, error)
}

// Request describes one backtest run.
type Request struct {
	Profile        persistence.Profile
	Start          time.Time
	End            time.Time
	InitialCapital float64
	PositionSize   float64
	StepDays       int // 0 means DefaultStepDays
	MaxOpen        int // 0 means DefaultMaxOpen
}

// Trade is one completed simulated round trip.
type Trade struct {
	Symbol            string    `json:"symbol"`
	EntryDate         time.Time `json:"entry_date"`
	ExitDate          time.Time `json:"exit_date"`
	EntryPrice        float64   `json:"entry_price"`
	ExitPrice         float64   `json:"exit_price"`
	Quantity          int       `json:"quantity"`
	ProfitLoss        float64   `json:"profit_loss"`
	ProfitLossPercent float64   `json:"profit_loss_percent"`
	ExitReason        string    `json:"exit_reason"`
}

// Result carries the trade list and aggregate performance metrics.
type Result struct {
	ProfileName    string    `json:"profile_name"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	StepDays       int       `json:"step_days"`
	DataMode       string    `json:"data_mode"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	TotalWinPL   float64 `json:"total_win_pl"`
	TotalLossPL  float64 `json:"total_loss_pl"`
	AvgWinPL     float64 `json:"avg_win_pl"`
	AvgLossPL    float64 `json:"avg_loss_pl"`
	ProfitFactor float64 `json:"profit_factor"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown_pct"`

	Trades []Trade `json:"trades"`
}
