package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Paper is an in-process broker simulation. Orders fill immediately at the
// configured price; quotes and market state are set by the operator or by
// tests. All methods are safe for concurrent use.
type Paper struct {
	mu         sync.RWMutex
	prices     map[string]float64
	account    AccountInfo
	positions  map[string]BrokerPosition
	marketOpen bool
	quoteNil   bool // simulate closed-market nil quotes
	holdFills  bool // orders rest as pending instead of filling
	failSubmit error
	orders     map[string]Order
}

// NewPaper creates a paper broker with the given starting cash.
func NewPaper(cash float64) *Paper {
	return &Paper{
		prices:     make(map[string]float64),
		positions:  make(map[string]BrokerPosition),
		orders:     make(map[string]Order),
		account:    AccountInfo{Cash: cash, BuyingPower: cash, Equity: cash},
		marketOpen: true,
	}
}

// SetPrice sets the simulated price for a symbol.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetMarketOpen toggles the simulated market session.
func (p *Paper) SetMarketOpen(open bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marketOpen = open
}

// SetQuoteUnavailable makes GetQuote return nil, as a live feed does when
// markets are closed.
func (p *Paper) SetQuoteUnavailable(unavailable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quoteNil = unavailable
}

// HoldFills makes subsequent orders rest as pending instead of filling
// immediately. Pending orders settle through FillOrder or CancelOrder.
func (p *Paper) HoldFills(hold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdFills = hold
}

// FailSubmissions makes SubmitOrder return err until cleared with nil.
func (p *Paper) FailSubmissions(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSubmit = err
}

func (p *Paper) GetQuote(_ context.Context, symbol string) (*float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.quoteNil {
		return nil, nil
	}
	price, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price configured for %s", symbol)
	}
	return &price, nil
}

func (p *Paper) GetLatestBar(_ context.Context, symbol string) (*Bar, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no bar available for %s", symbol)
	}
	return &Bar{
		Symbol: symbol, Open: price, High: price, Low: price, Close: price,
		Volume: 0, Timestamp: time.Now().UTC(),
	}, nil
}

func (p *Paper) GetAccountInfo(_ context.Context) (*AccountInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acct := p.account
	return &acct, nil
}

func (p *Paper) IsMarketOpen(_ context.Context) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.marketOpen, nil
}

func (p *Paper) SubmitOrder(_ context.Context, req OrderRequest) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failSubmit != nil {
		return nil, p.failSubmit
	}

	price, ok := p.prices[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("no price configured for %s", req.Symbol)
	}
	if req.Type == Limit && req.LimitPrice != nil {
		price = *req.LimitPrice
	}

	order := Order{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		Quantity:    req.Quantity,
		Side:        req.Side,
		Type:        req.Type,
		Status:      "pending",
		SubmittedAt: time.Now().UTC(),
	}
	if !p.holdFills {
		p.applyFill(req, price)
		order.Status = "filled"
		order.FilledPrice = price
	}
	p.orders[order.ID] = order
	return &order, nil
}

// applyFill books an order's cash and position effects. Caller holds the lock.
func (p *Paper) applyFill(req OrderRequest, price float64) {
	cost := price * float64(req.Quantity)
	switch req.Side {
	case Buy:
		p.account.Cash -= cost
		p.account.BuyingPower -= cost
		pos := p.positions[req.Symbol]
		pos.Symbol = req.Symbol
		pos.AvgCost = (pos.AvgCost*float64(pos.Quantity) + cost) / float64(pos.Quantity+req.Quantity)
		pos.Quantity += req.Quantity
		pos.CurrentPrice = price
		pos.MarketValue = price * float64(pos.Quantity)
		p.positions[req.Symbol] = pos
	case Sell:
		p.account.Cash += cost
		p.account.BuyingPower += cost
		pos := p.positions[req.Symbol]
		pos.Quantity -= req.Quantity
		if pos.Quantity <= 0 {
			delete(p.positions, req.Symbol)
		} else {
			p.positions[req.Symbol] = pos
		}
	}
}

// FillOrder settles a pending order at the current price.
func (p *Paper) FillOrder(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("no such order %s", id)
	}
	if order.Status != "pending" {
		return fmt.Errorf("order %s is %s, not pending", id, order.Status)
	}
	price, ok := p.prices[order.Symbol]
	if !ok {
		return fmt.Errorf("no price configured for %s", order.Symbol)
	}

	p.applyFill(OrderRequest{
		Symbol:   order.Symbol,
		Quantity: order.Quantity,
		Side:     order.Side,
		Type:     order.Type,
	}, price)
	order.Status = "filled"
	order.FilledPrice = price
	p.orders[id] = order
	return nil
}

// CancelOrder cancels a pending order without booking any effects.
func (p *Paper) CancelOrder(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("no such order %s", id)
	}
	if order.Status != "pending" {
		return fmt.Errorf("order %s is %s, not pending", id, order.Status)
	}
	order.Status = "canceled"
	p.orders[id] = order
	return nil
}

func (p *Paper) GetOrder(_ context.Context, orderID string) (*Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	order, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("no such order %s", orderID)
	}
	o := order
	return &o, nil
}

func (p *Paper) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	p.mu.RLock()
	pos, ok := p.positions[symbol]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no open position in %s", symbol)
	}
	return p.SubmitOrder(ctx, OrderRequest{
		Symbol:   symbol,
		Quantity: pos.Quantity,
		Side:     Sell,
		Type:     Market,
	})
}

func (p *Paper) GetPositions(_ context.Context) ([]BrokerPosition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}
