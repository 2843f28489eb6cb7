// Package config loads the application configuration from YAML, with
// environment overrides for credentials so secrets stay out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/EnragedAntelope/autotrader-sub001/internal/broker"
	httpapi "github.com/EnragedAntelope/autotrader-sub001/internal/interfaces/http"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence/postgres"
)

// Trading modes. Mode is explicit configuration threaded into every
// component, never ambient process state.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// RateQuotaConfig is one provider's default call budget.
type RateQuotaConfig struct {
	MaxPerMinute int `yaml:"max_per_minute"`
	MaxPerDay    int `yaml:"max_per_day"`
}

// MonitorConfig holds position-monitor settings.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Config is the full application configuration.
type Config struct {
	TradingMode string  `yaml:"trading_mode"`
	PaperCash   float64 `yaml:"paper_cash"`

	RedisAddr string `yaml:"redis_addr"`

	Postgres postgres.Config   `yaml:"postgres"`
	Broker   broker.LiveConfig `yaml:"broker"`
	Monitor  MonitorConfig     `yaml:"monitor"`
	HTTP     HTTPConfig        `yaml:"http"`

	RateQuotas map[string]RateQuotaConfig `yaml:"rate_quotas"`
}

// Default returns the paper-mode configuration used when no file is given.
func Default() Config {
	return Config{
		TradingMode: ModePaper,
		PaperCash:   100_000,
		Postgres:    postgres.DefaultConfig(),
		Broker: broker.LiveConfig{
			BaseURL:           "https://paper-api.alpaca.markets",
			DataURL:           "https://data.alpaca.markets",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 3,
		},
		Monitor: MonitorConfig{Interval: 60 * time.Second},
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		RateQuotas: map[string]RateQuotaConfig{
			"broker": {MaxPerMinute: 200, MaxPerDay: 10_000},
			"fmp":    {MaxPerMinute: 250, MaxPerDay: 2_500},
		},
	}
}

// Load reads the config file, fills defaults, applies env overrides, and
// validates. An empty path returns defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Credentials come from the environment when present, overriding the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BROKER_KEY_ID"); v != "" {
		cfg.Broker.KeyID = v
	}
	if v := os.Getenv("BROKER_SECRET_KEY"); v != "" {
		cfg.Broker.SecretKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("invalid trading_mode %q: must be %q or %q", c.TradingMode, ModePaper, ModeLive)
	}
	if c.TradingMode == ModeLive {
		if c.Broker.KeyID == "" || c.Broker.SecretKey == "" {
			return fmt.Errorf("live mode requires broker credentials (BROKER_KEY_ID / BROKER_SECRET_KEY)")
		}
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("live mode requires broker.base_url")
		}
	}
	if c.TradingMode == ModePaper && c.PaperCash <= 0 {
		return fmt.Errorf("paper_cash must be positive, got %.2f", c.PaperCash)
	}
	for provider, q := range c.RateQuotas {
		if q.MaxPerMinute <= 0 || q.MaxPerDay <= 0 {
			return fmt.Errorf("rate quota for %q must have positive limits", provider)
		}
	}
	return nil
}

// ServerConfig converts the HTTP section for the API server.
func (c *Config) ServerConfig() httpapi.ServerConfig {
	sc := httpapi.DefaultServerConfig()
	if c.HTTP.Addr != "" {
		sc.Addr = c.HTTP.Addr
	}
	if c.HTTP.ReadTimeout > 0 {
		sc.ReadTimeout = c.HTTP.ReadTimeout
	}
	if c.HTTP.WriteTimeout > 0 {
		sc.WriteTimeout = c.HTTP.WriteTimeout
	}
	if c.HTTP.IdleTimeout > 0 {
		sc.IdleTimeout = c.HTTP.IdleTimeout
	}
	return sc
}
