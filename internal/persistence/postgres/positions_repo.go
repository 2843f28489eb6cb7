package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

// positionsRepo implements PositionsRepo for PostgreSQL.
type positionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *positionsRepo) Upsert(ctx context.Context, p persistence.Position) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO positions (trading_mode, symbol, quantity, avg_cost,
			current_price, current_value, unrealized_pl, unrealized_pl_pct,
			stop_loss_pct, take_profit_pct, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (trading_mode, symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avg_cost = EXCLUDED.avg_cost,
			current_price = EXCLUDED.current_price,
			current_value = EXCLUDED.current_value,
			unrealized_pl = EXCLUDED.unrealized_pl,
			unrealized_pl_pct = EXCLUDED.unrealized_pl_pct,
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			take_profit_pct = EXCLUDED.take_profit_pct,
			updated_at = now()`

	_, err := r.db.ExecContext(ctx, query,
		p.TradingMode, p.Symbol, p.Quantity, p.AvgCost,
		p.CurrentPrice, p.CurrentValue, p.UnrealizedPL, p.UnrealizedPLPct,
		p.StopLossPct, p.TakeProfitPct, p.OpenedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

func (r *positionsRepo) Get(ctx context.Context, mode, symbol string) (*persistence.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var p persistence.Position
	query := `SELECT * FROM positions WHERE trading_mode = $1 AND symbol = $2`
	if err := r.db.GetContext(ctx, &p, query, mode, symbol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	return &p, nil
}

func (r *positionsRepo) List(ctx context.Context, mode string) ([]persistence.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.Position
	query := `SELECT * FROM positions WHERE trading_mode = $1 ORDER BY symbol`
	if err := r.db.SelectContext(ctx, &out, query, mode); err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return out, nil
}

func (r *positionsRepo) Count(ctx context.Context, mode string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int
	query := `SELECT COUNT(*) FROM positions WHERE trading_mode = $1`
	if err := r.db.GetContext(ctx, &n, query, mode); err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}
	return n, nil
}

func (r *positionsRepo) Delete(ctx context.Context, mode, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM positions WHERE trading_mode = $1 AND symbol = $2`, mode, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
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

func (r *positionsRepo) UpdatePrice(ctx context.Context, mode, symbol string, price, value, pl, plPct float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE positions
		SET current_price = $3, current_value = $4, unrealized_pl = $5,
			unrealized_pl_pct = $6, updated_at = now()
		WHERE trading_mode = $1 AND symbol = $2`

	res, err := r.db.ExecContext(ctx, query, mode, symbol, price, value, pl, plPct)
	if err != nil {
		return fmt.Errorf("failed to update position price: %w", err)
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
