package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/pkg/utils"
)

var logLevels = []string{"debug", "info", "warn", "warning", "error"}

// Config holds the application configuration.
type Config struct {
	// Server configuration
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Logging configuration
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	// Application configuration
	Environment string `yaml:"environment"`

	// Persistence. Both are optional; without a database snapshots stay in memory.
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`

	// Cron specs with a seconds field, e.g. "0 */5 * * * *". Empty disables the job.
	SnapshotSchedule string `yaml:"snapshot_schedule"`
	FundingSchedule  string `yaml:"funding_schedule"`

	Markets []MarketConfig `yaml:"markets"`
}

// MarketConfig describes a market to create at startup when the store has none by that ID.
// Ratios are decimal strings.
type MarketConfig struct {
	ID                      string        `yaml:"id"`
	Symbol                  string        `yaml:"symbol"`
	InitialMarginRatio      string        `yaml:"initial_margin_ratio"`
	MaintenanceRatio        string        `yaml:"maintenance_ratio"`
	LiquidationFee          string        `yaml:"liquidation_fee"`
	PartialLiquidationRatio string        `yaml:"partial_liquidation_ratio"`
	PartialLiquidationFloor string        `yaml:"partial_liquidation_floor"`
	FluctuationLimitRatio   string        `yaml:"fluctuation_limit_ratio"`
	FluctuationWindow       time.Duration `yaml:"fluctuation_window"`
	FundingPeriod           time.Duration `yaml:"funding_period"`
	Decimals                uint8         `yaml:"decimals"`

	// MarkPrice seeds the price book, optional.
	MarkPrice string `yaml:"mark_price"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Host:             "localhost",
		Port:             8080,
		ShutdownTimeout:  10 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
		Environment:      "development",
		CacheTTL:         30 * time.Second,
		SnapshotSchedule: "0 * * * * *",
		FundingSchedule:  "0 0 * * * *",
	}
}

// Load reads the optional YAML file at path, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.loadEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) loadEnvOverrides() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnvAsInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.SnapshotSchedule = getEnv("SNAPSHOT_SCHEDULE", c.SnapshotSchedule)
	c.FundingSchedule = getEnv("FUNDING_SCHEDULE", c.FundingSchedule)
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if !utils.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("log_level must be one of %s, got %q", strings.Join(logLevels, ", "), c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{"snapshot_schedule": c.SnapshotSchedule, "funding_schedule": c.FundingSchedule} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.ID == "" {
			return fmt.Errorf("markets[%d].id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("market %s defined twice", m.ID)
		}
		seen[m.ID] = true

		params, err := m.Params()
		if err != nil {
			return fmt.Errorf("market %s: %w", m.ID, err)
		}
		if err := params.Validate(); err != nil {
			return fmt.Errorf("market %s: %w", m.ID, err)
		}
		if m.MarkPrice != "" {
			if _, err := decimal.NewFromString(m.MarkPrice); err != nil {
				return fmt.Errorf("market %s: mark_price: %w", m.ID, err)
			}
		}
	}
	return nil
}

// Params converts m to market parameters. Empty ratios are zero.
func (m MarketConfig) Params() (market.Params, error) {
	p := market.Params{
		FluctuationWindow: m.FluctuationWindow,
		FundingPeriod:     m.FundingPeriod,
		Decimals:          m.Decimals,
	}
	fields := []struct {
		name string
		in   string
		out  *decimal.Decimal
	}{
		{"initial_margin_ratio", m.InitialMarginRatio, &p.InitialMarginRatio},
		{"maintenance_ratio", m.MaintenanceRatio, &p.MaintenanceRatio},
		{"liquidation_fee", m.LiquidationFee, &p.LiquidationFee},
		{"partial_liquidation_ratio", m.PartialLiquidationRatio, &p.PartialLiquidationRatio},
		{"partial_liquidation_floor", m.PartialLiquidationFloor, &p.PartialLiquidationFloor},
		{"fluctuation_limit_ratio", m.FluctuationLimitRatio, &p.FluctuationLimitRatio},
	}
	for _, f := range fields {
		if f.in == "" {
			continue
		}
		d, err := decimal.NewFromString(f.in)
		if err != nil {
			return market.Params{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = d
	}
	return p, nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

// getEnvAsInt gets an environment variable as integer with a default value.
func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}
