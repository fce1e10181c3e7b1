// Package config defines all configuration for the trading execution
// core. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via TRADECORE_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Brokers                map[string]BrokerConfig `mapstructure:"brokers"`
	DefaultBroker          string                  `mapstructure:"default_broker"`
	RoutingRules           map[string]string       `mapstructure:"routing_rules"` // instrument type -> broker id
	ReconciliationSchedule []ReconScheduleEntry    `mapstructure:"reconciliation_schedule"`
	RiskDefaults           RiskDefaultsConfig      `mapstructure:"risk_defaults"`
	IntakeQueueCapacity    int                     `mapstructure:"intake_queue_capacity"`
	RPCDeadlineMS          int                     `mapstructure:"rpc_deadline_ms"`
	Store                  StoreConfig             `mapstructure:"store"`
	Logging                LoggingConfig           `mapstructure:"logging"`
	Instruments            InstrumentsConfig       `mapstructure:"instruments"`
}

// InstrumentsConfig controls the periodic instrument master-data
// refresh.
type InstrumentsConfig struct {
	SourceURL    string        `mapstructure:"source_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BrokerConfig describes one broker adapter's connection details and
// per-endpoint-category rate limits.
type BrokerConfig struct {
	BaseURL    string     `mapstructure:"base_url"`
	WSURL      string     `mapstructure:"ws_url"`
	APIKeyEnv  string     `mapstructure:"api_key_env"`
	SecretEnv  string     `mapstructure:"secret_env"`
	DryRun     bool       `mapstructure:"dry_run"`
	RateLimits RateLimits `mapstructure:"rate_limits"`
}

// RateLimits mirrors the token-bucket categories the rate limiter
// enforces per broker.
type RateLimits struct {
	OrderBurst   int `mapstructure:"order_burst"`
	OrderPerSec  int `mapstructure:"order_per_sec"`
	CancelBurst  int `mapstructure:"cancel_burst"`
	CancelPerSec int `mapstructure:"cancel_per_sec"`
	FetchBurst   int `mapstructure:"fetch_burst"`
	FetchPerSec  int `mapstructure:"fetch_per_sec"`
}

// ReconScheduleEntry schedules one recurring reconciliation run.
type ReconScheduleEntry struct {
	Broker string `mapstructure:"broker"`
	Scope  string `mapstructure:"scope"`
	Cron   string `mapstructure:"cron"` // standard 5-field cron expression
}

// RiskDefaultsConfig supplies fallback limits and flat-percentage
// margin figures. The margin calculator does not read the flat figures:
// with no active versioned record it returns an error.
type RiskDefaultsConfig struct {
	MaxPositionNotional float64 `mapstructure:"max_position_notional"`
	MaxDailyLossPct     float64 `mapstructure:"max_daily_loss_pct"`
	MaxDrawdownPct      float64 `mapstructure:"max_drawdown_pct"`
	VaRMethod           string  `mapstructure:"var_method"` // "historical" | "monte_carlo"
	VaRConfidence       float64 `mapstructure:"var_confidence"`
	VaRHorizonDays      int     `mapstructure:"var_horizon_days"`
	MonteCarloSamples   int     `mapstructure:"monte_carlo_samples"`
	FlatSPANPercent     float64 `mapstructure:"flat_span_percent"`
	FlatExposurePercent float64 `mapstructure:"flat_exposure_percent"`
}

// StoreConfig sets where the persistence port opens its database.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" | "memory"
	DSN    string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RPCDeadline returns the configured RPC deadline, defaulting to 10s.
func (c *Config) RPCDeadline() time.Duration {
	if c.RPCDeadlineMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RPCDeadlineMS) * time.Millisecond
}

// IntakeCapacity returns the configured intake queue bound, defaulting
// to 1024.
func (c *Config) IntakeCapacity() int {
	if c.IntakeQueueCapacity <= 0 {
		return 1024
	}
	return c.IntakeQueueCapacity
}

// Load reads config from a YAML file with env var overrides.
// Broker credentials are read from the env vars named by each broker's
// api_key_env/secret_env, not from the YAML file directly.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if dsn := os.Getenv("TRADECORE_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}

	return &cfg, nil
}

// BrokerCredentials resolves the API key/secret for a broker from the
// environment variables its BrokerConfig names.
func (c *Config) BrokerCredentials(brokerID string) (apiKey, secret string, err error) {
	bc, ok := c.Brokers[brokerID]
	if !ok {
		return "", "", fmt.Errorf("unknown broker %q", brokerID)
	}
	apiKey = os.Getenv(bc.APIKeyEnv)
	secret = os.Getenv(bc.SecretEnv)
	if apiKey == "" || secret == "" {
		return "", "", fmt.Errorf("broker %q credentials not set (env %s / %s)", brokerID, bc.APIKeyEnv, bc.SecretEnv)
	}
	return apiKey, secret, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one entry under brokers is required")
	}
	if c.DefaultBroker == "" {
		return fmt.Errorf("default_broker is required")
	}
	if _, ok := c.Brokers[c.DefaultBroker]; !ok {
		return fmt.Errorf("default_broker %q is not declared under brokers", c.DefaultBroker)
	}
	for id, b := range c.Brokers {
		if b.BaseURL == "" {
			return fmt.Errorf("brokers.%s.base_url is required", id)
		}
	}
	for _, entry := range c.ReconciliationSchedule {
		if _, ok := c.Brokers[entry.Broker]; !ok {
			return fmt.Errorf("reconciliation_schedule references unknown broker %q", entry.Broker)
		}
		if entry.Cron == "" {
			return fmt.Errorf("reconciliation_schedule entry for %s/%s is missing cron", entry.Broker, entry.Scope)
		}
	}
	if c.RiskDefaults.MaxPositionNotional <= 0 {
		return fmt.Errorf("risk_defaults.max_position_notional must be > 0")
	}
	switch c.RiskDefaults.VaRMethod {
	case "historical", "monte_carlo", "":
	default:
		return fmt.Errorf("risk_defaults.var_method must be historical or monte_carlo")
	}
	return nil
}
