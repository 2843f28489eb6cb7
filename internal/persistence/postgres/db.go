// Package postgres implements the persistence repositories on PostgreSQL
// through sqlx. Live mode runs against this store; paper mode may use it or
// the in-memory store depending on configuration.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
)

// Config holds database connection configuration.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns reasonable pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewStore wires all repositories over one connection pool.
func NewStore(db *sqlx.DB, timeout time.Duration) *persistence.Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &persistence.Store{
		Positions: &positionsRepo{db: db, timeout: timeout},
		Closed:    &closedRepo{db: db, timeout: timeout},
		Trades:    &tradesRepo{db: db, timeout: timeout},
		Settings:  &settingsRepo{db: db, timeout: timeout},
		Stats:     &statsRepo{db: db, timeout: timeout},
		Profiles:  &profilesRepo{db: db, timeout: timeout},
	}
}
