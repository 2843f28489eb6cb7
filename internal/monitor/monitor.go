// Package monitor runs the recurring position-monitoring loop: re-price open
// positions every tick and liquidate any whose stop-loss or take-profit
// threshold has been crossed.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/exits"
	"github.com/EnragedAntelope/autotrader-sub001/internal/marketdata"
	"github.com/EnragedAntelope/autotrader-sub001/internal/metrics"
	"github.com/EnragedAntelope/autotrader-sub001/internal/notify"
	"github.com/EnragedAntelope/autotrader-sub001/internal/orders"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

const (
	// DefaultInterval between ticks.
	DefaultInterval = 60 * time.Second
	// MinInterval is the floor for reconfiguration.
	MinInterval = 10 * time.Second

	quoteTTL = 15 * time.Second
)

// Monitor owns the open-position lifecycle after entry.
type Monitor struct {
	store    *persistence.Store
	broker   broker.Client
	executor *orders.Executor
	quotes   marketdata.Cache
	notifier notify.Notifier
	metrics  *metrics.Registry
	mode     string
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a position monitor. Intervals below the floor are clamped.
func New(store *persistence.Store, brokerClient broker.Client, executor *orders.Executor,
	quotes marketdata.Cache, notifier notify.Notifier, reg *metrics.Registry,
	tradingMode string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Monitor{
		store:    store,
		broker:   brokerClient,
		executor: executor,
		quotes:   quotes,
		notifier: notifier,
		metrics:  reg,
		mode:     tradingMode,
		interval: interval,
	}
}

// Start launches the tick loop. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true

	go m.loop(ctx)
	log.Info().Dur("interval", m.interval).Str("mode", m.mode).Msg("position monitor started")
}

// Stop cancels future ticks and waits for an in-flight tick to finish, so no
// persistence write is cut off mid-way. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("position monitor stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The tick runs with a fresh context so cancellation stops the
			// ticker but lets writes already started complete.
			m.Tick(context.Background())
		}
	}
}

// Tick reconciles pending orders, then processes every open position once.
// One bad position never stops the others or the loop.
func (m *Monitor) Tick(ctx context.Context) {
	if err := m.executor.ReconcilePending(ctx); err != nil {
		log.Warn().Err(err).Msg("monitor tick: pending-order reconciliation failed")
		if m.metrics != nil {
			m.metrics.MonitorTickErrors.Inc()
		}
	}

	positions, err := m.store.Positions.List(ctx, m.mode)
	if err != nil {
		log.Error().Err(err).Msg("monitor tick: failed to load positions")
		return
	}

	for _, pos := range positions {
		if err := m.check(ctx, pos); err != nil {
			log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("monitor: position check failed")
			if m.metrics != nil {
				m.metrics.MonitorTickErrors.Inc()
			}
		}
	}
	if m.metrics != nil {
		m.metrics.MonitorTicks.Inc()
	}
}

func (m *Monitor) fetchPrice(ctx context.Context, symbol string) (float64, error) {
	if m.quotes != nil {
		if price, ok := m.quotes.Get(ctx, symbol); ok {
			return price, nil
		}
	}

	quote, err := m.broker.GetQuote(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("quote fetch failed: %w", err)
	}
	if quote == nil {
		bar, err := m.broker.GetLatestBar(ctx, symbol)
		if err != nil {
			return 0, fmt.Errorf("no quote and no bar: %w", err)
		}
		return bar.Close, nil
	}

	if m.quotes != nil {
		m.quotes.Set(ctx, symbol, *quote, quoteTTL)
	}
	return *quote, nil
}

func (m *Monitor) check(ctx context.Context, pos persistence.Position) error {
	price, err := m.fetchPrice(ctx, pos.Symbol)
	if err != nil {
		// Skip this position this tick; it will be re-priced next tick.
		return err
	}

	res := exits.Evaluate(pos, price)
	if !res.ShouldExit {
		value := price * float64(pos.Quantity)
		pl := (price - pos.AvgCost) * float64(pos.Quantity)
		return m.store.Positions.UpdatePrice(ctx, m.mode, pos.Symbol, price, value, pl, res.PLPercent)
	}

	if err := m.liquidate(ctx, pos, price, res); err != nil {
		// Reported, not fatal: monitoring of other positions continues and
		// the loop keeps running.
		m.notifyEvent(notify.Event{
			Level: notify.LevelError, Kind: "liquidation_failed", Symbol: pos.Symbol,
			Message: fmt.Sprintf("auto-sell failed (%s): %v", res.Reason, err),
		})
		return fmt.Errorf("liquidation failed: %w", err)
	}
	return nil
}

// Liquidate closes a position at market through the executor's sell path.
// Exported for the manual close operation; reason records why.
func (m *Monitor) Liquidate(ctx context.Context, pos persistence.Position, reason persistence.CloseReason) error {
	price, err := m.fetchPrice(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	return m.liquidate(ctx, pos, price, exits.Result{
		ShouldExit: true, Reason: reason,
		TriggeredBy: "manual close", PLPercent: exits.PLPercent(pos.AvgCost, price),
	})
}

func (m *Monitor) liquidate(ctx context.Context, pos persistence.Position, price float64, res exits.Result) error {
	out, err := m.executor.Execute(ctx, orders.Request{
		Symbol:    pos.Symbol,
		Quantity:  pos.Quantity,
		Side:      broker.Sell,
		OrderType: broker.Market,
	})
	if err != nil {
		return err
	}

	exitPrice := price
	if out.Order != nil && out.Order.FilledPrice > 0 {
		exitPrice = out.Order.FilledPrice
	}

	now := time.Now().UTC()
	realized := (exitPrice - pos.AvgCost) * float64(pos.Quantity)
	closed := persistence.ClosedPosition{
		Symbol:        pos.Symbol,
		Quantity:      pos.Quantity,
		EntryPrice:    pos.AvgCost,
		ExitPrice:     exitPrice,
		RealizedPL:    realized,
		RealizedPLPct: exits.PLPercent(pos.AvgCost, exitPrice),
		HoldingDays:   now.Sub(pos.OpenedAt).Hours() / 24,
		Reason:        res.Reason,
		OpenedAt:      pos.OpenedAt,
		ClosedAt:      now,
	}
	if err := m.store.Closed.Insert(ctx, closed); err != nil {
		return fmt.Errorf("failed to record closed position: %w", err)
	}
	if err := m.store.Positions.Delete(ctx, m.mode, pos.Symbol); err != nil {
		return fmt.Errorf("failed to remove closed position row: %w", err)
	}

	day := persistence.DateKey(now)
	if err := m.store.Stats.Increment(ctx, day, persistence.StatPositionsClosed, 1); err != nil {
		log.Error().Err(err).Msg("failed to update daily stats")
	}
	if err := m.store.Stats.Increment(ctx, day, persistence.StatRealizedPL, realized); err != nil {
		log.Error().Err(err).Msg("failed to update daily stats")
	}

	if m.metrics != nil {
		m.metrics.OpenPositions.Dec()
		m.metrics.Liquidations.WithLabelValues(string(res.Reason)).Inc()
	}
	m.notifyEvent(notify.Event{
		Level: notify.LevelInfo, Kind: "position_closed", Symbol: pos.Symbol,
		Message: fmt.Sprintf("closed %d %s @ $%.2f (%s, P/L $%.2f / %.2f%%)",
			pos.Quantity, pos.Symbol, exitPrice, res.Reason, realized, closed.RealizedPLPct),
	})

	log.Info().Str("symbol", pos.Symbol).Str("reason", string(res.Reason)).
		Float64("pl", realized).Msg("position liquidated")
	return nil
}

func (m *Monitor) notifyEvent(ev notify.Event) {
	if m.notifier != nil {
		m.notifier.Notify(ev)
	}
}
