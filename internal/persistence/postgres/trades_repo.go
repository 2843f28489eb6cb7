package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

// tradesRepo implements TradesRepo for PostgreSQL.
type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Insert adds a new trade record.
func (r *tradesRepo) Insert(ctx context.Context, tr persistence.TradeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trades (id, profile_id, symbol, side, quantity, order_type,
			requested_price, limit_price, status, reject_reason, broker_order_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	_, err := r.db.ExecContext(ctx, query,
		tr.ID, tr.ProfileID, tr.Symbol, tr.Side, tr.Quantity, tr.OrderType,
		tr.RequestedPrice, tr.LimitPrice, tr.Status, tr.RejectReason,
		tr.BrokerOrderID, tr.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate trade record: %w", err)
		}
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// UpdateStatus transitions a pending trade to a terminal status. Non-pending
// rows are left untouched, which keeps trade records append-only in effect.
func (r *tradesRepo) UpdateStatus(ctx context.Context, id string, status persistence.TradeStatus, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE trades
		SET status = $2, reject_reason = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	res, err := r.db.ExecContext(ctx, query, id, status, reason)
	if err != nil {
		return fmt.Errorf("failed to update trade status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetByBrokerOrderID finds a trade by exchange order ID for reconciliation.
func (r *tradesRepo) GetByBrokerOrderID(ctx context.Context, orderID string) (*persistence.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var tr persistence.TradeRecord
	query := `SELECT * FROM trades WHERE broker_order_id = $1 LIMIT 1`
	if err := r.db.GetContext(ctx, &tr, query, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query trade by order id: %w", err)
	}
	return &tr, nil
}

// ListPending returns every trade still awaiting a broker fill, oldest first.
func (r *tradesRepo) ListPending(ctx context.Context) ([]persistence.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.TradeRecord
	query := `SELECT * FROM trades WHERE status = 'pending' ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list pending trades: %w", err)
	}
	return out, nil
}

// List returns the most recent trade records.
func (r *tradesRepo) List(ctx context.Context, limit int) ([]persistence.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.TradeRecord
	query := `SELECT * FROM trades ORDER BY created_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return out, nil
}
