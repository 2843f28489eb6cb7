// Package broker defines the brokerage collaborator consumed by the trading
// core, plus the paper and live implementations.
package broker

import (
	"context"
	"time"
)

// Side of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType supported by the broker.
type OrderType string

const (
	Market       OrderType = "market"
	Limit        OrderType = "limit"
	Stop         OrderType = "stop"
	StopLimit    OrderType = "stop_limit"
	TrailingStop OrderType = "trailing_stop"
)

// Bar is one OHLCV aggregate.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// AccountInfo is the broker's view of the account.
type AccountInfo struct {
	Cash          float64 `json:"cash"`
	BuyingPower   float64 `json:"buying_power"`
	Equity        float64 `json:"equity"`
	DayTradeCount int     `json:"day_trade_count"`
}

// OrderRequest is a submission to the broker.
type OrderRequest struct {
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"qty"`
	Side         Side      `json:"side"`
	Type         OrderType `json:"type"`
	LimitPrice   *float64  `json:"limit_price,omitempty"`
	StopPrice    *float64  `json:"stop_price,omitempty"`
	TrailPercent *float64  `json:"trail_percent,omitempty"`
	TimeInForce  string    `json:"time_in_force,omitempty"`
}

// Order is the broker's acknowledgement of a submission.
type Order struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Quantity    int64     `json:"qty"`
	Side        Side      `json:"side"`
	Type        OrderType `json:"type"`
	Status      string    `json:"status"`
	FilledPrice float64   `json:"filled_avg_price,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// BrokerPosition is a holding as reported by the broker, used for
// reconciliation against the local position store.
type BrokerPosition struct {
	Symbol       string  `json:"symbol"`
	Quantity     int64   `json:"qty"`
	AvgCost      float64 `json:"avg_entry_price"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
}

// Client is the brokerage collaborator. GetQuote returns nil (not an error)
// when no live quote is available, e.g. outside market hours; callers fall
// back to the latest bar's close.
type Client interface {
	GetQuote(ctx context.Context, symbol string) (*float64, error)
	GetLatestBar(ctx context.Context, symbol string) (*Bar, error)
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	IsMarketOpen(ctx context.Context) (bool, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ClosePosition(ctx context.Context, symbol string) (*Order, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)
}
