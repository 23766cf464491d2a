package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"quant_go/internal/domain"
)

// Config holds every application setting. Secrets can be overridden
// through environment variables after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine struct {
		InitialBalance decimal.Decimal `yaml:"initial_balance"`
		FeeRate        decimal.Decimal `yaml:"fee_rate"`
		// clamp: size trades down on insufficient funds (historical behavior)
		// reject: fail the trade instead
		ClampPolicy string `yaml:"clamp_policy"`

		LivePoolSize     int `yaml:"live_pool_size"`
		BacktestPoolSize int `yaml:"backtest_pool_size"`

		EvalTimeoutSec  int `yaml:"eval_timeout_sec"`
		OrderTimeoutSec int `yaml:"order_timeout_sec"`
		MaxDataRetries  int `yaml:"max_data_retries"`
	} `yaml:"engine"`

	API struct {
		OKX struct {
			WSURL      string `yaml:"ws_url"`
			RestURL    string `yaml:"rest_url"`
			APIKey     string `yaml:"api_key"`
			SecretKey  string `yaml:"secret_key"`
			Passphrase string `yaml:"passphrase"`
			Simulated  bool   `yaml:"simulated"` // x-simulated-trading header
		} `yaml:"okx"`
	} `yaml:"api"`

	Storage struct {
		Path string `yaml:"path"` // empty: per-user config dir
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.ClampPolicy == "" {
		cfg.Engine.ClampPolicy = "clamp"
	}
	if cfg.Engine.LivePoolSize == 0 {
		cfg.Engine.LivePoolSize = 8
	}
	if cfg.Engine.BacktestPoolSize == 0 {
		cfg.Engine.BacktestPoolSize = 4
	}
	if cfg.Engine.EvalTimeoutSec == 0 {
		cfg.Engine.EvalTimeoutSec = 30
	}
	if cfg.Engine.OrderTimeoutSec == 0 {
		cfg.Engine.OrderTimeoutSec = 10
	}
	if cfg.Engine.MaxDataRetries == 0 {
		cfg.Engine.MaxDataRetries = 5
	}
	if cfg.Engine.FeeRate.IsZero() {
		cfg.Engine.FeeRate = decimal.RequireFromString("0.001")
	}
	if cfg.Engine.InitialBalance.IsZero() {
		cfg.Engine.InitialBalance = decimal.NewFromInt(10000)
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.OKX.WSURL == "" || (!hasPrefix(c.API.OKX.WSURL, "ws://") && !hasPrefix(c.API.OKX.WSURL, "wss://")) {
		return &domain.ConfigError{Field: "api.okx.ws_url", Err: fmt.Errorf("invalid websocket URL %q", c.API.OKX.WSURL)}
	}
	if c.API.OKX.RestURL == "" || (!hasPrefix(c.API.OKX.RestURL, "http://") && !hasPrefix(c.API.OKX.RestURL, "https://")) {
		return &domain.ConfigError{Field: "api.okx.rest_url", Err: fmt.Errorf("invalid REST URL %q", c.API.OKX.RestURL)}
	}
	if c.Engine.FeeRate.IsNegative() || c.Engine.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &domain.ConfigError{Field: "engine.fee_rate", Err: fmt.Errorf("must be in [0,1), got %s", c.Engine.FeeRate)}
	}
	if !c.Engine.InitialBalance.IsPositive() {
		return &domain.ConfigError{Field: "engine.initial_balance", Err: fmt.Errorf("must be positive")}
	}
	if c.Engine.ClampPolicy != "clamp" && c.Engine.ClampPolicy != "reject" {
		return &domain.ConfigError{Field: "engine.clamp_policy", Err: fmt.Errorf("must be clamp or reject, got %q", c.Engine.ClampPolicy)}
	}
	if c.Engine.LivePoolSize <= 0 || c.Engine.BacktestPoolSize <= 0 {
		return &domain.ConfigError{Field: "engine.pool_size", Err: fmt.Errorf("pool sizes must be positive")}
	}
	return nil
}

// EvalTimeout returns the per-evaluation deadline.
func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.Engine.EvalTimeoutSec) * time.Second
}

// OrderTimeout returns the order placement deadline.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Engine.OrderTimeoutSec) * time.Second
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces secrets with environment values when present.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("QUANT_OKX_KEY"); key != "" {
		cfg.API.OKX.APIKey = key
	}
	if secret := os.Getenv("QUANT_OKX_SECRET"); secret != "" {
		cfg.API.OKX.SecretKey = secret
	}
	if pass := os.Getenv("QUANT_OKX_PASSPHRASE"); pass != "" {
		cfg.API.OKX.Passphrase = pass
	}
}
