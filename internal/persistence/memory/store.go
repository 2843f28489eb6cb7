// Package memory provides in-process implementations of the persistence
// repositories. Paper mode runs against this store when no database is
// configured; the test suites use it as the reference implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

// NewStore returns a persistence.Store backed entirely by process memory.
func NewStore() *persistence.Store {
	return &persistence.Store{
		Positions: &positionsRepo{rows: make(map[string]persistence.Position)},
		Closed:    &closedRepo{},
		Trades:    &tradesRepo{},
		Settings:  &settingsRepo{},
		Stats:     &statsRepo{rows: make(map[string]persistence.DailyStat)},
		Profiles:  &profilesRepo{rows: make(map[int64]persistence.Profile)},
	}
}

func posKey(mode, symbol string) string { return mode + "/" + symbol }

type positionsRepo struct {
	mu   sync.RWMutex
	rows map[string]persistence.Position
}

func (r *positionsRepo) Upsert(_ context.Context, p persistence.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	r.rows[posKey(p.TradingMode, p.Symbol)] = p
	return nil
}

func (r *positionsRepo) Get(_ context.Context, mode, symbol string) (*persistence.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rows[posKey(mode, symbol)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &p, nil
}

func (r *positionsRepo) List(_ context.Context, mode string) ([]persistence.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]persistence.Position, 0, len(r.rows))
	for _, p := range r.rows {
		if p.TradingMode == mode {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (r *positionsRepo) Count(ctx context.Context, mode string) (int, error) {
	list, err := r.List(ctx, mode)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

func (r *positionsRepo) Delete(_ context.Context, mode, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := posKey(mode, symbol)
	if _, ok := r.rows[key]; !ok {
		return persistence.ErrNotFound
	}
	delete(r.rows, key)
	return nil
}

func (r *positionsRepo) UpdatePrice(_ context.Context, mode, symbol string, price, value, pl, plPct float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := posKey(mode, symbol)
	p, ok := r.rows[key]
	if !ok {
		return persistence.ErrNotFound
	}
	p.CurrentPrice = price
	p.CurrentValue = value
	p.UnrealizedPL = pl
	p.UnrealizedPLPct = plPct
	p.UpdatedAt = time.Now().UTC()
	r.rows[key] = p
	return nil
}

type closedRepo struct {
	mu   sync.Mutex
	rows []persistence.ClosedPosition
}

func (r *closedRepo) Insert(_ context.Context, cp persistence.ClosedPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, cp)
	return nil
}

func (r *closedRepo) List(_ context.Context, limit int) ([]persistence.ClosedPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]persistence.ClosedPosition, n)
	// newest first
	for i := 0; i < n; i++ {
		out[i] = r.rows[len(r.rows)-1-i]
	}
	return out, nil
}

type tradesRepo struct {
	mu   sync.Mutex
	rows []persistence.TradeRecord
}

func (r *tradesRepo) Insert(_ context.Context, tr persistence.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, tr)
	return nil
}

func (r *tradesRepo) UpdateStatus(_ context.Context, id string, status persistence.TradeStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID != id {
			continue
		}
		if r.rows[i].Status != persistence.TradePending {
			return fmt.Errorf("trade %s is %s, only pending trades transition", id, r.rows[i].Status)
		}
		r.rows[i].Status = status
		r.rows[i].RejectReason = reason
		r.rows[i].UpdatedAt = time.Now().UTC()
		return nil
	}
	return persistence.ErrNotFound
}

func (r *tradesRepo) GetByBrokerOrderID(_ context.Context, orderID string) (*persistence.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].BrokerOrderID == orderID {
			tr := r.rows[i]
			return &tr, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (r *tradesRepo) ListPending(_ context.Context) ([]persistence.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []persistence.TradeRecord
	for i := range r.rows {
		if r.rows[i].Status == persistence.TradePending {
			out = append(out, r.rows[i])
		}
	}
	return out, nil
}

func (r *tradesRepo) List(_ context.Context, limit int) ([]persistence.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]persistence.TradeRecord, n)
	for i := 0; i < n; i++ {
		out[i] = r.rows[len(r.rows)-1-i]
	}
	return out, nil
}

type settingsRepo struct {
	mu  sync.RWMutex
	row *persistence.RiskSettings
}

func (r *settingsRepo) Get(_ context.Context) (*persistence.RiskSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.row == nil {
		return nil, persistence.ErrNotFound
	}
	s := *r.row
	return &s, nil
}

func (r *settingsRepo) Put(_ context.Context, s persistence.RiskSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.row = &s
	return nil
}

type statsRepo struct {
	mu   sync.Mutex
	rows map[string]persistence.DailyStat
}

func (r *statsRepo) Increment(_ context.Context, date, field string, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[date]
	row.Date = date
	switch field {
	case persistence.StatScansRun:
		row.ScansRun += int(delta)
	case persistence.StatMatchesFound:
		row.MatchesFound += int(delta)
	case persistence.StatOrdersPlaced:
		row.OrdersPlaced += int(delta)
	case persistence.StatOrdersFilled:
		row.OrdersFilled += int(delta)
	case persistence.StatOrdersRejected:
		row.OrdersRejected += int(delta)
	case persistence.StatPositionsOpened:
		row.PositionsOpened += int(delta)
	case persistence.StatPositionsClosed:
		row.PositionsClosed += int(delta)
	case persistence.StatRealizedPL:
		row.RealizedPL += delta
	default:
		return fmt.Errorf("unknown daily stat field %q", field)
	}
	r.rows[date] = row
	return nil
}

func (r *statsRepo) AddSpend(_ context.Context, date string, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[date]
	row.Date = date
	row.TotalSpent += amount
	r.rows[date] = row
	return nil
}

func (r *statsRepo) Get(_ context.Context, date string) (*persistence.DailyStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[date]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &row, nil
}

func (r *statsRepo) SpendSince(_ context.Context, from string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total float64
	for date, row := range r.rows {
		if date >= from {
			total += row.TotalSpent
		}
	}
	return total, nil
}

type profilesRepo struct {
	mu     sync.RWMutex
	rows   map[int64]persistence.Profile
	nextID int64
}

func (r *profilesRepo) Get(_ context.Context, id int64) (*persistence.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rows[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &p, nil
}

func (r *profilesRepo) ListEnabled(_ context.Context) ([]persistence.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []persistence.Profile
	for _, p := range r.rows {
		if p.ScheduleEnabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *profilesRepo) List(_ context.Context) ([]persistence.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]persistence.Profile, 0, len(r.rows))
	for _, p := range r.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *profilesRepo) Put(_ context.Context, p persistence.Profile) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == 0 {
		r.nextID++
		p.ID = r.nextID
		p.CreatedAt = time.Now().UTC()
	} else if p.ID > r.nextID {
		r.nextID = p.ID
	}
	r.rows[p.ID] = p
	return p.ID, nil
}
