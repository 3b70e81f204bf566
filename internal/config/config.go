package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Provider struct {
	BaseURL            string `yaml:"base_url"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	LookbackDays       int    `yaml:"lookback_days"`
}

type Feed struct {
	Addr           string `yaml:"addr"`
	BackoffSeconds int    `yaml:"backoff_seconds"`
	FuturesBoard   string `yaml:"futures_board"`
}

type Server struct {
	Addr                string `yaml:"addr"`
	PushIntervalSeconds int    `yaml:"push_interval_seconds"`
}

type Root struct {
	Mode                   string            `yaml:"mode"` // poll | stream
	Symbols                []string          `yaml:"symbols"`
	FuturesRoots           map[string]string `yaml:"futures_roots"` // spot ticker -> derivative root symbol
	Aliases                map[string]string `yaml:"aliases"`       // external ticker -> venue ticker
	RiskFreeRate           *float64          `yaml:"risk_free_rate"` // nil means the default; explicit 0 is honored
	RefreshSeconds         int               `yaml:"refresh_seconds"`
	DividendRefreshSeconds int               `yaml:"dividend_refresh_seconds"`
	PreferredYear          int               `yaml:"preferred_year"`
	PoolPath               string            `yaml:"pool_path"`
	Provider               Provider          `yaml:"provider"`
	Feed                   Feed              `yaml:"feed"`
	Server                 Server            `yaml:"server"`
	Env                    string            `yaml:"env"` // local | prod
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	c.applyEnv()
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "poll"
	}
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"SBER", "GAZP", "LKOH", "MOEX", "PLZL"}
	}
	if c.FuturesRoots == nil {
		c.FuturesRoots = map[string]string{
			"SBER": "SBRF",
			"GAZP": "GAZR",
			"LKOH": "LKOH",
			"MOEX": "MOEX",
			"PLZL": "PLZL",
			"X5":   "FIVE",
		}
	}
	if c.RiskFreeRate == nil {
		r := 0.12
		c.RiskFreeRate = &r
	}
	if c.RefreshSeconds == 0 {
		c.RefreshSeconds = 5
	}
	if c.DividendRefreshSeconds == 0 {
		c.DividendRefreshSeconds = 3600
	}
	if c.PoolPath == "" {
		c.PoolPath = "data/futures_pool.txt"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://iss.moex.com"
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 10
	}
	if c.Provider.RateLimitPerMinute == 0 {
		c.Provider.RateLimitPerMinute = 120
	}
	if c.Provider.LookbackDays == 0 {
		c.Provider.LookbackDays = 7
	}
	if c.Feed.Addr == "" {
		c.Feed.Addr = "127.0.0.1:34130"
	}
	if c.Feed.BackoffSeconds == 0 {
		c.Feed.BackoffSeconds = 2
	}
	if c.Feed.FuturesBoard == "" {
		c.Feed.FuturesBoard = "SPBFUT"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.PushIntervalSeconds == 0 {
		c.Server.PushIntervalSeconds = 1
	}
	if c.Env == "" {
		c.Env = "prod"
	}
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

// applyEnv lets deployment-level settings override the file.
func (c *Root) applyEnv() {
	if v := os.Getenv("SCREENER_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("SCREENER_PROVIDER_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("SCREENER_FEED_ADDR"); v != "" {
		c.Feed.Addr = v
	}
	if v := os.Getenv("SCREENER_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SCREENER_ENV"); v != "" {
		c.Env = v
	}
}

func (c *Root) validate() error {
	if c.Mode != "poll" && c.Mode != "stream" {
		return fmt.Errorf("config: unknown mode %q (want poll or stream)", c.Mode)
	}
	if *c.RiskFreeRate < 0 || *c.RiskFreeRate > 1 {
		return fmt.Errorf("config: risk_free_rate %v out of range", *c.RiskFreeRate)
	}
	return nil
}

// Venue maps an externally supplied ticker to the venue's name for it.
func (c *Root) Venue(ticker string) string {
	if v, ok := c.Aliases[ticker]; ok {
		return v
	}
	return ticker
}
