package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get-style lookups when no record matches.
var ErrNotFound = errors.New("record not found")

// CloseReason explains why a position round-trip ended.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseManual     CloseReason = "manual"
)

// TradeStatus tracks a trade record's lifecycle. The only legal transition
// after creation is pending -> filled|rejected|cancelled.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeFilled    TradeStatus = "filled"
	TradeRejected  TradeStatus = "rejected"
	TradeCancelled TradeStatus = "cancelled"
)

// Position is an open, live holding in one symbol. Owned by the position
// monitor once opened; deleted when the round-trip closes.
type Position struct {
	Symbol          string    `json:"symbol" db:"symbol"`
	Quantity        int64     `json:"quantity" db:"quantity"`
	AvgCost         float64   `json:"avg_cost" db:"avg_cost"`
	CurrentPrice    float64   `json:"current_price" db:"current_price"`
	CurrentValue    float64   `json:"current_value" db:"current_value"`
	UnrealizedPL    float64   `json:"unrealized_pl" db:"unrealized_pl"`
	UnrealizedPLPct float64   `json:"unrealized_pl_pct" db:"unrealized_pl_pct"`
	StopLossPct     *float64  `json:"stop_loss_pct,omitempty" db:"stop_loss_pct"`
	TakeProfitPct   *float64  `json:"take_profit_pct,omitempty" db:"take_profit_pct"`
	TradingMode     string    `json:"trading_mode" db:"trading_mode"`
	OpenedAt        time.Time `json:"opened_at" db:"opened_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// ClosedPosition is the immutable record of a completed round-trip.
type ClosedPosition struct {
	ID            int64       `json:"id" db:"id"`
	Symbol        string      `json:"symbol" db:"symbol"`
	Quantity      int64       `json:"quantity" db:"quantity"`
	EntryPrice    float64     `json:"entry_price" db:"entry_price"`
	ExitPrice     float64     `json:"exit_price" db:"exit_price"`
	RealizedPL    float64     `json:"realized_pl" db:"realized_pl"`
	RealizedPLPct float64     `json:"realized_pl_pct" db:"realized_pl_pct"`
	HoldingDays   float64     `json:"holding_days" db:"holding_days"`
	Reason        CloseReason `json:"reason" db:"reason"`
	OpenedAt      time.Time   `json:"opened_at" db:"opened_at"`
	ClosedAt      time.Time   `json:"closed_at" db:"closed_at"`
}

// TradeRecord is one row per execution attempt, append-only.
type TradeRecord struct {
	ID             string      `json:"id" db:"id"`
	ProfileID      *int64      `json:"profile_id,omitempty" db:"profile_id"`
	Symbol         string      `json:"symbol" db:"symbol"`
	Side           string      `json:"side" db:"side"`
	Quantity       int64       `json:"quantity" db:"quantity"`
	OrderType      string      `json:"order_type" db:"order_type"`
	RequestedPrice float64     `json:"requested_price" db:"requested_price"`
	LimitPrice     *float64    `json:"limit_price,omitempty" db:"limit_price"`
	Status         TradeStatus `json:"status" db:"status"`
	RejectReason   string      `json:"reject_reason,omitempty" db:"reject_reason"`
	BrokerOrderID  string      `json:"broker_order_id,omitempty" db:"broker_order_id"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// RiskSettings is the singleton pre-trade policy configuration.
type RiskSettings struct {
	Enabled              bool     `json:"enabled" db:"enabled"`
	MaxTransactionAmt    float64  `json:"max_transaction_amount" db:"max_transaction_amount"`
	DailySpendLimit      float64  `json:"daily_spend_limit" db:"daily_spend_limit"`
	WeeklySpendLimit     float64  `json:"weekly_spend_limit" db:"weekly_spend_limit"`
	MaxPositions         int      `json:"max_positions" db:"max_positions"`
	AllowDuplicates      bool     `json:"allow_duplicates" db:"allow_duplicates"`
	DefaultStopLossPct   *float64 `json:"default_stop_loss_pct,omitempty" db:"default_stop_loss_pct"`
	DefaultTakeProfitPct *float64 `json:"default_take_profit_pct,omitempty" db:"default_take_profit_pct"`
}

// DailyStat aggregates one calendar date of activity; upserted incrementally.
type DailyStat struct {
	Date            string  `json:"date" db:"date"` // YYYY-MM-DD
	ScansRun        int     `json:"scans_run" db:"scans_run"`
	MatchesFound    int     `json:"matches_found" db:"matches_found"`
	OrdersPlaced    int     `json:"orders_placed" db:"orders_placed"`
	OrdersFilled    int     `json:"orders_filled" db:"orders_filled"`
	OrdersRejected  int     `json:"orders_rejected" db:"orders_rejected"`
	PositionsOpened int     `json:"positions_opened" db:"positions_opened"`
	PositionsClosed int     `json:"positions_closed" db:"positions_closed"`
	TotalSpent      float64 `json:"total_spent" db:"total_spent"`
	RealizedPL      float64 `json:"realized_pl" db:"realized_pl"`
}

// Profile is a named, schedulable screening configuration.
type Profile struct {
	ID              int64     `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	AssetType       string    `json:"asset_type" db:"asset_type"`
	Params          string    `json:"params" db:"params"` // serialized rule parameters
	ScheduleEnabled bool      `json:"schedule_enabled" db:"schedule_enabled"`
	IntervalMinutes int       `json:"interval_minutes" db:"interval_minutes"`
	MarketHoursOnly bool      `json:"market_hours_only" db:"market_hours_only"`
	AutoExecute     bool      `json:"auto_execute" db:"auto_execute"`
	MaxTransaction  *float64  `json:"max_transaction,omitempty" db:"max_transaction"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// PositionsRepo stores live positions keyed by symbol and trading mode.
type PositionsRepo interface {
	Upsert(ctx context.Context, p Position) error
	Get(ctx context.Context, mode, symbol string) (*Position, error)
	List(ctx context.Context, mode string) ([]Position, error)
	Count(ctx context.Context, mode string) (int, error)
	Delete(ctx context.Context, mode, symbol string) error
	UpdatePrice(ctx context.Context, mode, symbol string, price, value, pl, plPct float64) error
}

// ClosedPositionsRepo is append-only history of completed round-trips.
type ClosedPositionsRepo interface {
	Insert(ctx context.Context, cp ClosedPosition) error
	List(ctx context.Context, limit int) ([]ClosedPosition, error)
}

// TradesRepo stores execution attempts. Records are never mutated after
// creation except the status transition.
type TradesRepo interface {
	Insert(ctx context.Context, tr TradeRecord) error
	UpdateStatus(ctx context.Context, id string, status TradeStatus, reason string) error
	GetByBrokerOrderID(ctx context.Context, orderID string) (*TradeRecord, error)
	ListPending(ctx context.Context) ([]TradeRecord, error)
	List(ctx context.Context, limit int) ([]TradeRecord, error)
}

// SettingsRepo persists the RiskSettings singleton.
type SettingsRepo interface {
	Get(ctx context.Context) (*RiskSettings, error)
	Put(ctx context.Context, s RiskSettings) error
}

// StatsRepo upserts daily aggregates and serves rolling spend windows.
// AddSpend must be transactional so concurrent admissions cannot both pass
// the same spend limit.
type StatsRepo interface {
	Increment(ctx context.Context, date string, field string, delta float64) error
	AddSpend(ctx context.Context, date string, amount float64) error
	Get(ctx context.Context, date string) (*DailyStat, error)
	SpendSince(ctx context.Context, from string) (float64, error)
}

// ProfilesRepo stores screening profiles.
type ProfilesRepo interface {
	Get(ctx context.Context, id int64) (*Profile, error)
	ListEnabled(ctx context.Context) ([]Profile, error)
	List(ctx context.Context) ([]Profile, error)
	Put(ctx context.Context, p Profile) (int64, error)
}

// Store aggregates all repositories behind one handle.
type Store struct {
	Positions PositionsRepo
	Closed    ClosedPositionsRepo
	Trades    TradesRepo
	Settings  SettingsRepo
	Stats     StatsRepo
	Profiles  ProfilesRepo
}

// DailyStat field names accepted by StatsRepo.Increment.
const (
	StatScansRun        = "scans_run"
	StatMatchesFound    = "matches_found"
	StatOrdersPlaced    = "orders_placed"
	StatOrdersFilled    = "orders_filled"
	StatOrdersRejected  = "orders_rejected"
	StatPositionsOpened = "positions_opened"
	StatPositionsClosed = "positions_closed"
	StatRealizedPL      = "realized_pl"
)

// DateKey formats a timestamp as the calendar-date key used by DailyStat.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
