package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/EnragedAntelope/autotrader-sub001/internal/backtest"
	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	"github.com/EnragedAntelope/autotrader-sub001/internal/config"
	httpapi "github.com/EnragedAntelope/autotrader-sub001/internal/interfaces/http"
	"github.com/EnragedAntelope/autotrader-sub001/internal/marketdata"
	"github.com/EnragedAntelope/autotrader-sub001/internal/metrics"
	"github.com/EnragedAntelope/autotrader-sub001/internal/monitor"
	"github.com/EnragedAntelope/autotrader-sub001/internal/notify"
	"github.com/EnragedAntelope/autotrader-sub001/internal/orders"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence/memory"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence/postgres"
	"github.com/EnragedAntelope/autotrader-sub001/internal/ratelimit"
	"github.com/EnragedAntelope/autotrader-sub001/internal/risk"
	"github.com/EnragedAntelope/autotrader-sub001/internal/scan"
	"github.com/EnragedAntelope/autotrader-sub001/internal/scheduler"
)

// app holds the fully wired component graph.
type app struct {
	cfg       *config.Config
	store     *persistence.Store
	db        *sqlx.DB // nil when running on the in-memory store
	broker    broker.Client
	budget    *ratelimit.Budget
	quotes    marketdata.Cache
	hub       *notify.Hub
	metrics   *metrics.Registry
	executor  *orders.Executor
	monitor   *monitor.Monitor
	scheduler *scheduler.Scheduler
	backtest  *backtest.Engine
	server    *httpapi.Server
}

// buildApp wires every component from configuration. Paper mode with no
// database runs entirely in-process.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	if cfg.Postgres.DSN != "" {
		db, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("database unavailable: %w", err)
		}
		a.db = db
		a.store = postgres.NewStore(db, cfg.Postgres.QueryTimeout)
		log.Info().Msg("using postgres store")
	} else {
		a.store = memory.NewStore()
		log.Info().Msg("no database configured, using in-memory store")
	}

	a.metrics = metrics.NewRegistry()
	a.budget = ratelimit.NewBudget(250, 2500)
	for provider, q := range cfg.RateQuotas {
		a.budget.Configure(provider, q.MaxPerMinute, q.MaxPerDay)
	}

	if cfg.TradingMode == config.ModeLive {
		a.broker = broker.NewLive(cfg.Broker, a.budget, a.metrics)
		log.Info().Str("base_url", cfg.Broker.BaseURL).Msg("live broker client ready")
	} else {
		a.broker = broker.NewPaper(cfg.PaperCash)
		log.Info().Float64("cash", cfg.PaperCash).Msg("paper broker ready")
	}

	a.quotes = marketdata.NewAuto(cfg.RedisAddr)
	a.hub = notify.NewHub(notify.LogNotifier{})

	gate := risk.NewGate(a.store, a.broker, cfg.TradingMode)
	a.executor = orders.NewExecutor(a.store, a.broker, gate, a.quotes, a.hub, a.metrics, cfg.TradingMode)
	a.monitor = monitor.New(a.store, a.broker, a.executor, a.quotes, a.hub, a.metrics,
		cfg.TradingMode, cfg.Monitor.Interval)
	a.scheduler = scheduler.New(a.store, scan.NewBarScanner(a.broker), a.broker, a.executor, a.hub, a.metrics)
	a.backtest = backtest.New(nil)

	a.server = httpapi.NewServer(cfg.ServerConfig(), httpapi.Deps{
		Store:       a.store,
		Executor:    a.executor,
		Monitor:     a.monitor,
		Scheduler:   a.scheduler,
		Budget:      a.budget,
		Backtest:    a.backtest,
		Metrics:     a.metrics,
		Hub:         a.hub,
		TradingMode: cfg.TradingMode,
	})
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}
}
