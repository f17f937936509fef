// Package config loads the engine's YAML configuration and applies
// environment-variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the engine needs to run one Martingale-chaser
// instance against one venue.
type Config struct {
	App struct {
		Name string `yaml:"name"`
	} `yaml:"app"`

	Venue struct {
		MarketWSURL string `yaml:"market_ws_url"`
		TradeWSURL  string `yaml:"trade_ws_url"`
		APIKey      string `yaml:"api_key"`
		APISecret   string `yaml:"api_secret"`
	} `yaml:"venue"`

	Symbol string `yaml:"symbol"`

	Strategy struct {
		BaseQuantity float64 `yaml:"base_quantity"`
		MaxStep      int     `yaml:"max_step"`
		ProfitPct    float64 `yaml:"profit_pct"`
		StopPct      float64 `yaml:"stop_pct"`
	} `yaml:"strategy"`

	IPC struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"ipc"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads path, parses it as YAML, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv lets BYBIT_API_KEY/BYBIT_API_SECRET take precedence over
// whatever is in the config file, so credentials never have to live on disk.
func overrideWithEnv(cfg *Config) {
	if cfg.Venue.APISecret != "" {
		fmt.Fprintln(os.Stderr, "config: WARNING api_secret found in config file; prefer BYBIT_API_KEY/BYBIT_API_SECRET env vars")
	}
	if key := os.Getenv("BYBIT_API_KEY"); key != "" {
		cfg.Venue.APIKey = key
	}
	if secret := os.Getenv("BYBIT_API_SECRET"); secret != "" {
		cfg.Venue.APISecret = secret
	}
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if !hasWSPrefix(c.Venue.MarketWSURL) {
		return fmt.Errorf("invalid market_ws_url: %q", c.Venue.MarketWSURL)
	}
	if !hasWSPrefix(c.Venue.TradeWSURL) {
		return fmt.Errorf("invalid trade_ws_url: %q", c.Venue.TradeWSURL)
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Strategy.BaseQuantity <= 0 {
		return fmt.Errorf("strategy.base_quantity must be positive")
	}
	if c.Strategy.MaxStep < 0 {
		return fmt.Errorf("strategy.max_step must not be negative")
	}
	if c.Strategy.ProfitPct <= 0 {
		return fmt.Errorf("strategy.profit_pct must be positive")
	}
	if c.Strategy.StopPct <= 0 {
		return fmt.Errorf("strategy.stop_pct must be positive")
	}
	return nil
}

func hasWSPrefix(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}
