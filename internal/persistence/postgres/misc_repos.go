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

// closedRepo implements ClosedPositionsRepo for PostgreSQL.
type closedRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *closedRepo) Insert(ctx context.Context, cp persistence.ClosedPosition) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO closed_positions (symbol, quantity, entry_price, exit_price,
			realized_pl, realized_pl_pct, holding_days, reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		cp.Symbol, cp.Quantity, cp.EntryPrice, cp.ExitPrice,
		cp.RealizedPL, cp.RealizedPLPct, cp.HoldingDays, cp.Reason,
		cp.OpenedAt, cp.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to insert closed position: %w", err)
	}
	return nil
}

func (r *closedRepo) List(ctx context.Context, limit int) ([]persistence.ClosedPosition, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.ClosedPosition
	query := `SELECT * FROM closed_positions ORDER BY closed_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list closed positions: %w", err)
	}
	return out, nil
}

// settingsRepo implements SettingsRepo for PostgreSQL. The table holds a
// single row enforced by a constant primary key.
type settingsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *settingsRepo) Get(ctx context.Context) (*persistence.RiskSettings, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var s persistence.RiskSettings
	query := `
		SELECT enabled, max_transaction_amount, daily_spend_limit, weekly_spend_limit,
			max_positions, allow_duplicates, default_stop_loss_pct, default_take_profit_pct
		FROM risk_settings WHERE singleton`
	if err := r.db.GetContext(ctx, &s, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query risk settings: %w", err)
	}
	return &s, nil
}

func (r *settingsRepo) Put(ctx context.Context, s persistence.RiskSettings) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO risk_settings (singleton, enabled, max_transaction_amount,
			daily_spend_limit, weekly_spend_limit, max_positions, allow_duplicates,
			default_stop_loss_pct, default_take_profit_pct)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (singleton) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			max_transaction_amount = EXCLUDED.max_transaction_amount,
			daily_spend_limit = EXCLUDED.daily_spend_limit,
			weekly_spend_limit = EXCLUDED.weekly_spend_limit,
			max_positions = EXCLUDED.max_positions,
			allow_duplicates = EXCLUDED.allow_duplicates,
			default_stop_loss_pct = EXCLUDED.default_stop_loss_pct,
			default_take_profit_pct = EXCLUDED.default_take_profit_pct`

	_, err := r.db.ExecContext(ctx, query,
		s.Enabled, s.MaxTransactionAmt, s.DailySpendLimit, s.WeeklySpendLimit,
		s.MaxPositions, s.AllowDuplicates, s.DefaultStopLossPct, s.DefaultTakeProfitPct)
	if err != nil {
		return fmt.Errorf("failed to store risk settings: %w", err)
	}
	return nil
}

// profilesRepo implements ProfilesRepo for PostgreSQL.
type profilesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *profilesRepo) Get(ctx context.Context, id int64) (*persistence.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var p persistence.Profile
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM profiles WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return &p, nil
}

func (r *profilesRepo) ListEnabled(ctx context.Context) ([]persistence.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.Profile
	query := `SELECT * FROM profiles WHERE schedule_enabled ORDER BY id`
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list enabled profiles: %w", err)
	}
	return out, nil
}

func (r *profilesRepo) List(ctx context.Context) ([]persistence.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.Profile
	if err := r.db.SelectContext(ctx, &out, `SELECT * FROM profiles ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return out, nil
}

func (r *profilesRepo) Put(ctx context.Context, p persistence.Profile) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if p.ID == 0 {
		query := `
			INSERT INTO profiles (name, asset_type, params, schedule_enabled,
				interval_minutes, market_hours_only, auto_execute, max_transaction)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`
		var id int64
		err := r.db.QueryRowxContext(ctx, query,
			p.Name, p.AssetType, p.Params, p.ScheduleEnabled,
			p.IntervalMinutes, p.MarketHoursOnly, p.AutoExecute, p.MaxTransaction).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert profile: %w", err)
		}
		return id, nil
	}

	query := `
		UPDATE profiles SET name = $2, asset_type = $3, params = $4,
			schedule_enabled = $5, interval_minutes = $6, market_hours_only = $7,
			auto_execute = $8, max_transaction = $9
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query,
		p.ID, p.Name, p.AssetType, p.Params, p.ScheduleEnabled,
		p.IntervalMinutes, p.MarketHoursOnly, p.AutoExecute, p.MaxTransaction); err != nil {
		return 0, fmt.Errorf("failed to update profile: %w", err)
	}
	return p.ID, nil
}
