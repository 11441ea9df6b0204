// Package config loads and validates the runtime configuration.
//
// Invalid configuration, such as a non-positive strike step or window
// size, is fatal at startup; it is never retried or defaulted away per
// pass.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the JSON configuration for one analytics run. A run covers a
// single underlying symbol.
type Config struct {
	Symbol             string  `json:"symbol" validate:"required"`                  // e.g. "NIFTY"
	UnderlyingToken    string  `json:"underlying_token" validate:"required"`        // e.g. "99926000"
	UnderlyingExchange string  `json:"underlying_exchange"`                         // default "NSE"
	OptionExchange     string  `json:"option_exchange"`                             // default "NFO"
	StrikeStep         float64 `json:"strike_step" validate:"gt=0"`                 // e.g. 50 for NIFTY
	WindowSteps        int     `json:"window_steps" validate:"gt=0"`                // strike steps above/below center
	TokenLimit         int     `json:"token_limit" validate:"gte=0"`                // candidate record cap, default 10
	RiskFreeRate       float64 `json:"risk_free_rate" validate:"gte=0"`             // annual, default 0
	IntervalSeconds    int     `json:"interval_seconds" validate:"gte=0"`           // cadence, default 60
	Timezone           string  `json:"timezone"`                                    // default "Asia/Kolkata"
	SnapshotPath       string  `json:"snapshot_path" validate:"required"`           // instrument master file
	ReportDir          string  `json:"report_dir"`                                  // default "./out"
	RowFilter          string  `json:"row_filter,omitempty"`                        // optional govaluate expression
	Verbosity          int     `json:"verbosity" validate:"gte=0,lte=3"`            // 0=errors .. 3=trace
}

// Load reads, defaults, and validates a config file. Any validation
// failure is returned as an error the caller should treat as fatal.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.UnderlyingExchange == "" {
		c.UnderlyingExchange = "NSE"
	}
	if c.OptionExchange == "" {
		c.OptionExchange = "NFO"
	}
	if c.TokenLimit == 0 {
		c.TokenLimit = 10
	}
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 60
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Kolkata"
	}
	if c.ReportDir == "" {
		c.ReportDir = "./out"
	}
}

// Validate checks struct constraints and that the timezone resolves.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the reference zone all bar timestamps are normalized
// to. Validate must have passed before calling.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		panic(fmt.Sprintf("config location after validation: %v", err))
	}
	return loc
}

// Interval returns the polling cadence as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
