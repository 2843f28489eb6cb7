package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/EnragedAntelope/autotrader-sub001/internal/metrics"
	"github.com/EnragedAntelope/autotrader-sub001/internal/ratelimit"
)

// ErrRateLimited is returned when the local call budget refuses an outbound
// request before it leaves the process.
var ErrRateLimited = errors.New("provider call budget exhausted")

// LiveConfig configures the REST brokerage client.
type LiveConfig struct {
	BaseURL   string        `yaml:"base_url"`
	DataURL   string        `yaml:"data_url"`
	KeyID     string        `yaml:"key_id"`
	SecretKey string        `yaml:"secret_key"`
	Timeout   time.Duration `yaml:"timeout"`
	// Smoothing cap on request rate, independent of the per-minute budget.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Live talks to the brokerage REST API. Every outbound call passes the shared
// call budget first, then a token-bucket smoother, then a circuit breaker
// per endpoint group so a dead trading API does not blind market data.
type Live struct {
	http     *resty.Client
	data     *resty.Client
	budget   *ratelimit.Budget
	provider string
	smoother *rate.Limiter
	trading  *gobreaker.CircuitBreaker
	market   *gobreaker.CircuitBreaker
	metrics  *metrics.Registry
}

// NewLive constructs the live client.
func NewLive(cfg LiveConfig, budget *ratelimit.Budget, reg *metrics.Registry) *Live {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}

	mk := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(cfg.Timeout).
			SetHeader("APCA-API-KEY-ID", cfg.KeyID).
			SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)
	}

	breaker := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("broker circuit state change")
			},
		})
	}

	return &Live{
		http:     mk(cfg.BaseURL),
		data:     mk(cfg.DataURL),
		budget:   budget,
		provider: "broker",
		smoother: rate.NewLimiter(rate.Limit(rps), 1),
		trading:  breaker("broker-trading"),
		market:   breaker("broker-data"),
		metrics:  reg,
	}
}

// admit spends one call from the budget and waits for the smoother.
func (l *Live) admit(ctx context.Context) error {
	if l.budget != nil {
		if d := l.budget.Admit(l.provider); !d.Allowed {
			if l.metrics != nil {
				l.metrics.RateDenials.WithLabelValues(l.provider).Inc()
			}
			return fmt.Errorf("%w: retry after %s", ErrRateLimited, d.RetryAfter.Round(time.Second))
		}
	}
	return l.smoother.Wait(ctx)
}

func (l *Live) get(ctx context.Context, cb *gobreaker.CircuitBreaker, client *resty.Client, path string, out interface{}) error {
	if err := l.admit(ctx); err != nil {
		return err
	}
	_, err := cb.Execute(func() (interface{}, error) {
		resp, err := client.R().SetContext(ctx).SetResult(out).Get(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("broker returned %d: %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})
	return err
}

type quoteResponse struct {
	Quote struct {
		AskPrice float64 `json:"ap"`
		BidPrice float64 `json:"bp"`
	} `json:"quote"`
}

func (l *Live) GetQuote(ctx context.Context, symbol string) (*float64, error) {
	var qr quoteResponse
	err := l.get(ctx, l.market, l.data, "/v2/stocks/"+symbol+"/quotes/latest", &qr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}
	// Zero bid and ask means no live quote (markets closed); a nil result
	// tells the caller to fall back to the latest bar.
	if qr.Quote.AskPrice == 0 && qr.Quote.BidPrice == 0 {
		return nil, nil
	}
	mid := (qr.Quote.AskPrice + qr.Quote.BidPrice) / 2
	if qr.Quote.AskPrice == 0 || qr.Quote.BidPrice == 0 {
		mid = qr.Quote.AskPrice + qr.Quote.BidPrice
	}
	return &mid, nil
}

type barResponse struct {
	Bar struct {
		Open      float64   `json:"o"`
		High      float64   `json:"h"`
		Low       float64   `json:"l"`
		Close     float64   `json:"c"`
		Volume    float64   `json:"v"`
		Timestamp time.Time `json:"t"`
	} `json:"bar"`
}

func (l *Live) GetLatestBar(ctx context.Context, symbol string) (*Bar, error) {
	var br barResponse
	if err := l.get(ctx, l.market, l.data, "/v2/stocks/"+symbol+"/bars/latest", &br); err != nil {
		return nil, fmt.Errorf("failed to fetch latest bar for %s: %w", symbol, err)
	}
	return &Bar{
		Symbol: symbol,
		Open:   br.Bar.Open, High: br.Bar.High, Low: br.Bar.Low,
		Close: br.Bar.Close, Volume: br.Bar.Volume, Timestamp: br.Bar.Timestamp,
	}, nil
}

type accountResponse struct {
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Equity      string `json:"equity"`
}

func (l *Live) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var ar accountResponse
	if err := l.get(ctx, l.trading, l.http, "/v2/account", &ar); err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	info := &AccountInfo{}
	if _, err := fmt.Sscanf(ar.Cash, "%f", &info.Cash); err != nil {
		return nil, fmt.Errorf("failed to parse account cash %q: %w", ar.Cash, err)
	}
	if _, err := fmt.Sscanf(ar.BuyingPower, "%f", &info.BuyingPower); err != nil {
		return nil, fmt.Errorf("failed to parse buying power %q: %w", ar.BuyingPower, err)
	}
	fmt.Sscanf(ar.Equity, "%f", &info.Equity)
	return info, nil
}

type clockResponse struct {
	IsOpen bool `json:"is_open"`
}

func (l *Live) IsMarketOpen(ctx context.Context) (bool, error) {
	var cr clockResponse
	if err := l.get(ctx, l.trading, l.http, "/v2/clock", &cr); err != nil {
		return false, fmt.Errorf("failed to fetch market clock: %w", err)
	}
	return cr.IsOpen, nil
}

func (l *Live) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := l.admit(ctx); err != nil {
		return nil, err
	}
	if req.TimeInForce == "" {
		req.TimeInForce = "day"
	}

	var order Order
	_, err := l.trading.Execute(func() (interface{}, error) {
		resp, err := l.http.R().SetContext(ctx).SetBody(req).SetResult(&order).Post("/v2/orders")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusForbidden || resp.StatusCode() == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("order rejected by broker: %s", resp.String())
		}
		if resp.IsError() {
			return nil, fmt.Errorf("broker returned %d: %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit order for %s: %w", req.Symbol, err)
	}
	return &order, nil
}

func (l *Live) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	if err := l.get(ctx, l.trading, l.http, "/v2/orders/"+orderID, &order); err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}
	return &order, nil
}

func (l *Live) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	if err := l.admit(ctx); err != nil {
		return nil, err
	}

	var order Order
	_, err := l.trading.Execute(func() (interface{}, error) {
		resp, err := l.http.R().SetContext(ctx).SetResult(&order).Delete("/v2/positions/" + symbol)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("broker returned %d: %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close position %s: %w", symbol, err)
	}
	return &order, nil
}

type livePosition struct {
	Symbol       string `json:"symbol"`
	Qty          string `json:"qty"`
	AvgCost      string `json:"avg_entry_price"`
	CurrentPrice string `json:"current_price"`
	MarketValue  string `json:"market_value"`
}

func (l *Live) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	var raw []livePosition
	if err := l.get(ctx, l.trading, l.http, "/v2/positions", &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	out := make([]BrokerPosition, 0, len(raw))
	for _, lp := range raw {
		var bp BrokerPosition
		bp.Symbol = lp.Symbol
		fmt.Sscanf(lp.Qty, "%d", &bp.Quantity)
		fmt.Sscanf(lp.AvgCost, "%f", &bp.AvgCost)
		fmt.Sscanf(lp.CurrentPrice, "%f", &bp.CurrentPrice)
		fmt.Sscanf(lp.MarketValue, "%f", &bp.MarketValue)
		out = append(out, bp)
	}
	return out, nil
}
