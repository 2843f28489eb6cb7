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

// statsRepo implements StatsRepo for PostgreSQL. Increments are single-row
// upserts; the database's write serialization is the correctness backstop
// for concurrent spend admissions.
type statsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

var statColumns = map[string]string{
	persistence.StatScansRun:        "scans_run",
	persistence.StatMatchesFound:    "matches_found",
	persistence.StatOrdersPlaced:    "orders_placed",
	persistence.StatOrdersFilled:    "orders_filled",
	persistence.StatOrdersRejected:  "orders_rejected",
	persistence.StatPositionsOpened: "positions_opened",
	persistence.StatPositionsClosed: "positions_closed",
	persistence.StatRealizedPL:      "realized_pl",
}

func (r *statsRepo) Increment(ctx context.Context, date, field string, delta float64) error {
	col, ok := statColumns[field]
	if !ok {
		return fmt.Errorf("unknown daily stat field %q", field)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// col comes from the fixed map above, never from caller input.
	query := fmt.Sprintf(`
		INSERT INTO daily_stats (date, %s) VALUES ($1, $2)
		ON CONFLICT (date) DO UPDATE SET %s = daily_stats.%s + $2`, col, col, col)

	if _, err := r.db.ExecContext(ctx, query, date, delta); err != nil {
		return fmt.Errorf("failed to increment %s: %w", field, err)
	}
	return nil
}

func (r *statsRepo) AddSpend(ctx context.Context, date string, amount float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO daily_stats (date, total_spent) VALUES ($1, $2)
		ON CONFLICT (date) DO UPDATE SET total_spent = daily_stats.total_spent + $2`

	if _, err := r.db.ExecContext(ctx, query, date, amount); err != nil {
		return fmt.Errorf("failed to add spend: %w", err)
	}
	return nil
}

func (r *statsRepo) Get(ctx context.Context, date string) (*persistence.DailyStat, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row persistence.DailyStat
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM daily_stats WHERE date = $1`, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	return &row, nil
}

func (r *statsRepo) SpendSince(ctx context.Context, from string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var total sql.NullFloat64
	query := `SELECT SUM(total_spent) FROM daily_stats WHERE date >= $1`
	if err := r.db.GetContext(ctx, &total, query, from); err != nil {
		return 0, fmt.Errorf("failed to sum spend window: %w", err)
	}
	return total.Float64, nil
}
