// Package orders validates, risk-gates, and submits orders, recording every
// attempt as a trade record.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/marketdata"
	"github.com/EnragedAntelope/autotrader-sub001/internal/metrics"
	"github.com/EnragedAntelope/autotrader-sub001/internal/notify"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
	"github.com/EnragedAntelope/autotrader-sub001/internal/risk"
)

// ErrInvalidOrder marks parameter-validation failures. These never reach
// persistence or the broker.
var ErrInvalidOrder = errors.New("invalid order")

const quoteTTL = 30 * time.Second

// Request describes one order to execute.
type Request struct {
	ProfileID    *int64           `json:"profile_id,omitempty"`
	Symbol       string           `json:"symbol"`
	Quantity     int64            `json:"quantity"`
	Side         broker.Side      `json:"side"`
	OrderType    broker.OrderType `json:"order_type"`
	LimitPrice   *float64         `json:"limit_price,omitempty"`
	StopPrice    *float64         `json:"stop_price,omitempty"`
	TrailPercent *float64         `json:"trail_percent,omitempty"`
}

// Outcome reports what happened to a valid order. A risk rejection is a
// normal outcome, not an error.
type Outcome struct {
	Executed      bool                     `json:"executed"`
	Order         *broker.Order            `json:"order,omitempty"`
	EstimatedCost float64                  `json:"estimated_cost"`
	RejectReason  string                   `json:"reject_reason,omitempty"`
	Trade         *persistence.TradeRecord `json:"trade,omitempty"`
}

// Executor runs the validate -> price -> gate -> submit -> record pipeline.
// Execution is serialized per symbol so the gate's window read and the spend
// write behave as one atomic admission.
type Executor struct {
	store    *persistence.Store
	broker   broker.Client
	gate     *risk.Gate
	quotes   marketdata.Cache
	notifier notify.Notifier
	metrics  *metrics.Registry
	mode     string

	lockMu   sync.Mutex
	symLocks map[string]*sync.Mutex
}

// NewExecutor wires an order executor.
func NewExecutor(store *persistence.Store, brokerClient broker.Client, gate *risk.Gate,
	quotes marketdata.Cache, notifier notify.Notifier, reg *metrics.Registry, tradingMode string) *Executor {
	return &Executor{
		store:    store,
		broker:   brokerClient,
		gate:     gate,
		quotes:   quotes,
		notifier: notifier,
		metrics:  reg,
		mode:     tradingMode,
		symLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Executor) symbolLock(symbol string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.symLocks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		e.symLocks[symbol] = mu
	}
	return mu
}

func validate(req Request) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be a positive integer", ErrInvalidOrder)
	}
	switch req.Side {
	case broker.Buy, broker.Sell:
	default:
		return fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	switch req.OrderType {
	case broker.Market, broker.Limit, broker.Stop, broker.StopLimit, broker.TrailingStop:
	default:
		return fmt.Errorf("%w: unsupported order type %q", ErrInvalidOrder, req.OrderType)
	}
	needLimit := req.OrderType == broker.Limit || req.OrderType == broker.StopLimit
	needStop := req.OrderType == broker.Stop || req.OrderType == broker.StopLimit
	if needLimit && (req.LimitPrice == nil || *req.LimitPrice <= 0) {
		return fmt.Errorf("%w: %s orders require a positive limit price", ErrInvalidOrder, req.OrderType)
	}
	if needStop && (req.StopPrice == nil || *req.StopPrice <= 0) {
		return fmt.Errorf("%w: %s orders require a positive stop price", ErrInvalidOrder, req.OrderType)
	}
	return nil
}

// estimatePrice resolves the price used for cost estimation: the limit price
// when supplied, else a live quote, else the latest bar's close.
func (e *Executor) estimatePrice(ctx context.Context, req Request) (float64, error) {
	if req.LimitPrice != nil && *req.LimitPrice > 0 {
		return *req.LimitPrice, nil
	}

	if e.quotes != nil {
		if price, ok := e.quotes.Get(ctx, req.Symbol); ok {
			return price, nil
		}
	}

	quote, err := e.broker.GetQuote(ctx, req.Symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch quote for %s: %w", req.Symbol, err)
	}
	if quote != nil {
		if e.quotes != nil {
			e.quotes.Set(ctx, req.Symbol, *quote, quoteTTL)
		}
		return *quote, nil
	}

	// Markets closed: a nil quote is valid, fall back to the last bar.
	bar, err := e.broker.GetLatestBar(ctx, req.Symbol)
	if err != nil {
		return 0, fmt.Errorf("no quote and no bar for %s: %w", req.Symbol, err)
	}
	return bar.Close, nil
}

// Execute runs the full pipeline for one order.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if err := validate(req); err != nil {
		if e.metrics != nil {
			e.metrics.OrdersRejected.WithLabelValues("validation").Inc()
		}
		return nil, err
	}

	// Serialize admission per symbol: two concurrent buys in the same symbol
	// must not both pass the same spend window.
	mu := e.symbolLock(req.Symbol)
	mu.Lock()
	defer mu.Unlock()

	price, err := e.estimatePrice(ctx, req)
	if err != nil {
		return nil, err
	}
	estimatedCost := price * float64(req.Quantity)

	gateRes, err := e.gate.Evaluate(ctx, req.Symbol, req.Side, estimatedCost)
	if err != nil {
		return nil, fmt.Errorf("risk evaluation failed: %w", err)
	}

	now := time.Now().UTC()
	record := persistence.TradeRecord{
		ID:             uuid.NewString(),
		ProfileID:      req.ProfileID,
		Symbol:         req.Symbol,
		Side:           string(req.Side),
		Quantity:       req.Quantity,
		OrderType:      string(req.OrderType),
		RequestedPrice: price,
		LimitPrice:     req.LimitPrice,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if !gateRes.Passed {
		record.Status = persistence.TradeRejected
		record.RejectReason = gateRes.Reason
		if err := e.store.Trades.Insert(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to record risk rejection: %w", err)
		}
		e.bumpStat(ctx, persistence.StatOrdersRejected)
		if e.metrics != nil {
			e.metrics.OrdersRejected.WithLabelValues("risk").Inc()
		}
		log.Info().Str("symbol", req.Symbol).Str("check", gateRes.Check).
			Str("reason", gateRes.Reason).Msg("order rejected by risk gate")
		return &Outcome{Executed: false, EstimatedCost: estimatedCost,
			RejectReason: gateRes.Reason, Trade: &record}, nil
	}

	order, err := e.broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:       req.Symbol,
		Quantity:     req.Quantity,
		Side:         req.Side,
		Type:         req.OrderType,
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		TrailPercent: req.TrailPercent,
	})
	if err != nil {
		// Broker failures are recorded, then surfaced: they may indicate a
		// connectivity problem needing operator attention.
		record.Status = persistence.TradeRejected
		record.RejectReason = err.Error()
		if insErr := e.store.Trades.Insert(ctx, record); insErr != nil {
			log.Error().Err(insErr).Msg("failed to record broker rejection")
		}
		e.bumpStat(ctx, persistence.StatOrdersRejected)
		if e.metrics != nil {
			e.metrics.OrdersRejected.WithLabelValues("broker").Inc()
		}
		e.notify(notify.Event{
			Level: notify.LevelError, Kind: "order_failed", Symbol: req.Symbol,
			Message: fmt.Sprintf("broker rejected %s %d %s: %v", req.Side, req.Quantity, req.Symbol, err),
		})
		return nil, fmt.Errorf("broker submission failed: %w", err)
	}

	record.Status = persistence.TradePending
	record.BrokerOrderID = order.ID
	if order.Status == "filled" {
		record.Status = persistence.TradeFilled
	}
	if err := e.store.Trades.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record trade: %w", err)
	}

	e.bumpStat(ctx, persistence.StatOrdersPlaced)
	if record.Status == persistence.TradeFilled {
		e.bumpStat(ctx, persistence.StatOrdersFilled)
	}
	if req.Side == broker.Buy {
		if err := e.store.Stats.AddSpend(ctx, persistence.DateKey(now), estimatedCost); err != nil {
			log.Error().Err(err).Msg("failed to record spend")
		}
	}
	if e.metrics != nil {
		e.metrics.OrdersPlaced.Inc()
	}
	e.notify(notify.Event{
		Level: notify.LevelInfo, Kind: "order_placed", Symbol: req.Symbol,
		Message: fmt.Sprintf("%s %d %s @ ~$%.2f (order %s)", req.Side, req.Quantity, req.Symbol, price, order.ID),
	})

	// An immediate buy fill opens the tracked position right away; pending
	// orders are reconciled when the fill lands.
	if req.Side == broker.Buy && record.Status == persistence.TradeFilled {
		fillPrice := order.FilledPrice
		if fillPrice <= 0 {
			fillPrice = price
		}
		if err := e.OpenFromFill(ctx, req.Symbol, req.Quantity, fillPrice, nil, nil); err != nil {
			log.Error().Err(err).Str("symbol", req.Symbol).Msg("failed to open position from fill")
		}
	}

	return &Outcome{Executed: true, Order: order, EstimatedCost: estimatedCost, Trade: &record}, nil
}

// ReconcilePending polls the broker for every trade still marked pending and
// drives it to its terminal status. A filled buy opens its tracked position
// at the actual fill price; a dead order is marked cancelled. Poll failures
// leave the trade pending for the next pass.
func (e *Executor) ReconcilePending(ctx context.Context) error {
	pending, err := e.store.Trades.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending trades: %w", err)
	}

	for _, tr := range pending {
		if tr.BrokerOrderID == "" {
			continue
		}
		order, err := e.broker.GetOrder(ctx, tr.BrokerOrderID)
		if err != nil {
			log.Warn().Err(err).Str("trade", tr.ID).Str("order", tr.BrokerOrderID).
				Msg("failed to poll pending order")
			continue
		}

		switch order.Status {
		case "filled":
			if err := e.store.Trades.UpdateStatus(ctx, tr.ID, persistence.TradeFilled, ""); err != nil {
				log.Error().Err(err).Str("trade", tr.ID).Msg("failed to mark trade filled")
				continue
			}
			e.bumpStat(ctx, persistence.StatOrdersFilled)
			if broker.Side(tr.Side) == broker.Buy {
				fillPrice := order.FilledPrice
				if fillPrice <= 0 {
					fillPrice = tr.RequestedPrice
				}
				if err := e.OpenFromFill(ctx, tr.Symbol, tr.Quantity, fillPrice, nil, nil); err != nil {
					log.Error().Err(err).Str("symbol", tr.Symbol).Msg("failed to open position from fill")
				}
			}
			log.Info().Str("trade", tr.ID).Str("symbol", tr.Symbol).Msg("pending order filled")
		case "canceled", "cancelled", "expired", "rejected":
			reason := "broker reported " + order.Status
			if err := e.store.Trades.UpdateStatus(ctx, tr.ID, persistence.TradeCancelled, reason); err != nil {
				log.Error().Err(err).Str("trade", tr.ID).Msg("failed to mark trade cancelled")
				continue
			}
			e.notify(notify.Event{
				Level: notify.LevelWarn, Kind: "order_cancelled", Symbol: tr.Symbol,
				Message: fmt.Sprintf("%s %d %s: %s", tr.Side, tr.Quantity, tr.Symbol, reason),
			})
		}
	}
	return nil
}

// OpenFromFill records a live position after a buy fill, applying the
// default thresholds from risk settings when the caller passes none. A fill
// into an existing position averages the cost basis and keeps its thresholds.
func (e *Executor) OpenFromFill(ctx context.Context, symbol string, qty int64, fillPrice float64,
	stopLossPct, takeProfitPct *float64) error {
	now := time.Now().UTC()

	if existing, err := e.store.Positions.Get(ctx, e.mode, symbol); err == nil {
		total := existing.Quantity + qty
		existing.AvgCost = (existing.AvgCost*float64(existing.Quantity) + fillPrice*float64(qty)) / float64(total)
		existing.Quantity = total
		existing.CurrentPrice = fillPrice
		existing.CurrentValue = fillPrice * float64(total)
		existing.UpdatedAt = now
		if err := e.store.Positions.Upsert(ctx, *existing); err != nil {
			return fmt.Errorf("failed to extend position %s: %w", symbol, err)
		}
		return nil
	}

	if stopLossPct == nil && takeProfitPct == nil {
		if settings, err := e.gate.Settings(ctx); err == nil {
			stopLossPct = settings.DefaultStopLossPct
			takeProfitPct = settings.DefaultTakeProfitPct
		}
	}

	pos := persistence.Position{
		Symbol:        symbol,
		Quantity:      qty,
		AvgCost:       fillPrice,
		CurrentPrice:  fillPrice,
		CurrentValue:  fillPrice * float64(qty),
		StopLossPct:   stopLossPct,
		TakeProfitPct: takeProfitPct,
		TradingMode:   e.mode,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	if err := e.store.Positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("failed to open position %s: %w", symbol, err)
	}
	e.bumpStat(ctx, persistence.StatPositionsOpened)
	if e.metrics != nil {
		e.metrics.OpenPositions.Inc()
	}
	return nil
}

func (e *Executor) bumpStat(ctx context.Context, field string) {
	if err := e.store.Stats.Increment(ctx, persistence.DateKey(time.Now()), field, 1); err != nil {
		log.Error().Err(err).Str("field", field).Msg("failed to update daily stats")
	}
}

func (e *Executor) notify(ev notify.Event) {
	if e.notifier != nil {
		e.notifier.Notify(ev)
	}
}
