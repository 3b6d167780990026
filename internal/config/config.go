// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App        AppConfig        `yaml:"app"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Collector  CollectorConfig  `yaml:"collector"`
	Capital    CapitalConfig    `yaml:"capital"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Reversal   ReversalConfig   `yaml:"reversal"`
	Validation ValidationConfig `yaml:"validation"`
	Regime     RegimeConfig     `yaml:"regime"`
	Journal    JournalConfig    `yaml:"journal"`
	Server     ServerConfig     `yaml:"server"`
	Alerts     AlertsConfig     `yaml:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name                string  `yaml:"name"`
	ScanIntervalSeconds int     `yaml:"scan_interval_seconds"`
	SeedEquityUSD       float64 `yaml:"seed_equity_usd"`
	LogLevel            string  `yaml:"log_level"`
	LogFormat           string  `yaml:"log_format"` // console or json
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	MetricsPort   int  `yaml:"metrics_port"`
}

// CollectorConfig selects and tunes the telemetry source
type CollectorConfig struct {
	Source                string   `yaml:"source"` // synthetic or poller
	IndexerURL            string   `yaml:"indexer_url"`
	StreamURL             string   `yaml:"stream_url"`
	StreamTTLSeconds      int      `yaml:"stream_ttl_seconds"`
	PoolIDs               []string `yaml:"pool_ids"`
	MaxRequestsPerSec     float64  `yaml:"max_requests_per_sec"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	Workers               int      `yaml:"workers"`
	SyntheticPools        int      `yaml:"synthetic_pools"`
	SyntheticSeed         int64    `yaml:"synthetic_seed"`
}

// CapitalConfig overrides the headline capital-manager limits. Zero values
// fall back to the package defaults.
type CapitalConfig struct {
	HardReservePct       float64 `yaml:"hard_reserve_pct"`
	MinPositionUSD       float64 `yaml:"min_position_usd"`
	MaxSinglePositionPct float64 `yaml:"max_single_position_pct"`
	TargetNeutralUSD     float64 `yaml:"target_neutral_usd"`
	TargetBullUSD        float64 `yaml:"target_bull_usd"`
	TargetBearUSD        float64 `yaml:"target_bear_usd"`
}

// ConfidenceConfig tunes the rolling confidence window
type ConfidenceConfig struct {
	WindowMinutes int `yaml:"window_minutes"`
	MaxSamples    int `yaml:"max_samples"`
}

// ReversalConfig tunes the reversal guard
type ReversalConfig struct {
	MaxTicks           int `yaml:"max_ticks"`
	CooldownSeconds    int `yaml:"cooldown_seconds"`
	MaxCooldownSeconds int `yaml:"max_cooldown_seconds"`
}

// ValidationConfig tunes the admission pipeline
type ValidationConfig struct {
	MinCombinedMultiplier float64 `yaml:"min_combined_multiplier"`
}

// RegimeConfig tunes the regime detector and kill switch
type RegimeConfig struct {
	BullEnterScore      float64 `yaml:"bull_enter_score"`
	BullExitScore       float64 `yaml:"bull_exit_score"`
	BearEnterScore      float64 `yaml:"bear_enter_score"`
	BearExitScore       float64 `yaml:"bear_exit_score"`
	SmoothingWindow     int     `yaml:"smoothing_window"`
	MaxDrawdownPct      float64 `yaml:"max_drawdown_pct"`
	MaxForcedExitRate   float64 `yaml:"max_forced_exit_rate"`
	KillCooldownMinutes int     `yaml:"kill_cooldown_minutes"`
}

// JournalConfig selects the journal backend
type JournalConfig struct {
	Backend        string `yaml:"backend"` // memory, sqlite or postgres
	SQLitePath     string `yaml:"sqlite_path"`
	PostgresDSN    Secret `yaml:"postgres_dsn"`
	MemoryCapacity int    `yaml:"memory_capacity"`
}

// ServerConfig configures the status feed server
type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// AlertsConfig configures notification channels. Empty values disable the
// corresponding channel; the log channel is always active.
type AlertsConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration, applying
// section defaults where a field is optional.
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTelemetryConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateCollectorConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateCapitalConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateRegimeConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateJournalConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateServerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.Name == "" {
		c.App.Name = "lp-sentinel"
	}
	if c.App.ScanIntervalSeconds == 0 {
		c.App.ScanIntervalSeconds = 30
	}
	if c.App.ScanIntervalSeconds < 5 || c.App.ScanIntervalSeconds > 3600 {
		return ValidationError{
			Field:   "app.scan_interval_seconds",
			Value:   c.App.ScanIntervalSeconds,
			Message: "must be between 5 and 3600",
		}
	}

	if c.App.SeedEquityUSD < 0 {
		return ValidationError{
			Field:   "app.seed_equity_usd",
			Value:   c.App.SeedEquityUSD,
			Message: "must not be negative",
		}
	}

	if c.App.LogLevel == "" {
		c.App.LogLevel = "INFO"
	}
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}

	if c.App.LogFormat == "" {
		c.App.LogFormat = "console"
	}
	if c.App.LogFormat != "console" && c.App.LogFormat != "json" {
		return ValidationError{
			Field:   "app.log_format",
			Value:   c.App.LogFormat,
			Message: "must be console or json",
		}
	}

	return nil
}

func (c *Config) validateTelemetryConfig() error {
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9464
	}
	if c.Telemetry.MetricsPort < 0 || c.Telemetry.MetricsPort > 65535 {
		return ValidationError{
			Field:   "telemetry.metrics_port",
			Value:   c.Telemetry.MetricsPort,
			Message: "must be a valid port number",
		}
	}
	return nil
}

func (c *Config) validateCollectorConfig() error {
	if c.Collector.Source == "" {
		c.Collector.Source = "synthetic"
	}
	if c.Collector.Source != "synthetic" && c.Collector.Source != "poller" {
		return ValidationError{
			Field:   "collector.source",
			Value:   c.Collector.Source,
			Message: "must be synthetic or poller",
		}
	}

	if c.Collector.Source == "poller" {
		if c.Collector.IndexerURL == "" {
			return ValidationError{
				Field:   "collector.indexer_url",
				Message: "required when collector.source is poller",
			}
		}
		if len(c.Collector.PoolIDs) == 0 {
			return ValidationError{
				Field:   "collector.pool_ids",
				Message: "at least one pool is required when collector.source is poller",
			}
		}
	}

	if c.Collector.StreamTTLSeconds == 0 {
		c.Collector.StreamTTLSeconds = 120
	}
	if c.Collector.RequestTimeoutSeconds == 0 {
		c.Collector.RequestTimeoutSeconds = 10
	}
	if c.Collector.Workers == 0 {
		c.Collector.Workers = 8
	}
	return nil
}

func (c *Config) validateCapitalConfig() error {
	if c.Capital.HardReservePct < 0 || c.Capital.HardReservePct > 0.9 {
		return ValidationError{
			Field:   "capital.hard_reserve_pct",
			Value:   c.Capital.HardReservePct,
			Message: "must be between 0 and 0.9",
		}
	}
	if c.Capital.MinPositionUSD < 0 {
		return ValidationError{
			Field:   "capital.min_position_usd",
			Value:   c.Capital.MinPositionUSD,
			Message: "must not be negative",
		}
	}
	if c.Capital.MaxSinglePositionPct < 0 || c.Capital.MaxSinglePositionPct > 1 {
		return ValidationError{
			Field:   "capital.max_single_position_pct",
			Value:   c.Capital.MaxSinglePositionPct,
			Message: "must be between 0 and 1",
		}
	}
	return nil
}

func (c *Config) validateRegimeConfig() error {
	// Hysteresis bands must not invert; zero means package default.
	if c.Regime.BullEnterScore != 0 && c.Regime.BullExitScore != 0 &&
		c.Regime.BullExitScore >= c.Regime.BullEnterScore {
		return ValidationError{
			Field:   "regime.bull_exit_score",
			Value:   c.Regime.BullExitScore,
			Message: "must be below regime.bull_enter_score",
		}
	}
	if c.Regime.BearEnterScore != 0 && c.Regime.BearExitScore != 0 &&
		c.Regime.BearExitScore <= c.Regime.BearEnterScore {
		return ValidationError{
			Field:   "regime.bear_exit_score",
			Value:   c.Regime.BearExitScore,
			Message: "must be above regime.bear_enter_score",
		}
	}
	if c.Regime.MaxDrawdownPct < 0 || c.Regime.MaxDrawdownPct > 1 {
		return ValidationError{
			Field:   "regime.max_drawdown_pct",
			Value:   c.Regime.MaxDrawdownPct,
			Message: "must be between 0 and 1",
		}
	}
	return nil
}

func (c *Config) validateJournalConfig() error {
	if c.Journal.Backend == "" {
		c.Journal.Backend = "memory"
	}

	switch c.Journal.Backend {
	case "memory":
	case "sqlite":
		if c.Journal.SQLitePath == "" {
			return ValidationError{
				Field:   "journal.sqlite_path",
				Message: "required when journal.backend is sqlite",
			}
		}
	case "postgres":
		if c.Journal.PostgresDSN == "" {
			return ValidationError{
				Field:   "journal.postgres_dsn",
				Message: "required when journal.backend is postgres",
			}
		}
	default:
		return ValidationError{
			Field:   "journal.backend",
			Value:   c.Journal.Backend,
			Message: "must be memory, sqlite or postgres",
		}
	}
	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Enabled && c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8787"
	}
	return nil
}

// String returns a string representation of the configuration. Secret fields
// redact themselves during marshaling.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		value := os.Getenv(key)
		if value == "" && isCriticalEnvVar(key) {
			return ""
		}
		return value
	})
}

// isCriticalEnvVar checks if an environment variable is critical for operation
func isCriticalEnvVar(key string) bool {
	criticalVars := []string{
		"SENTINEL_PG_DSN",
		"SLACK_WEBHOOK_URL",
		"TELEGRAM_BOT_TOKEN",
	}
	return contains(criticalVars, key)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:                "lp-sentinel",
			ScanIntervalSeconds: 30,
			SeedEquityUSD:       10000,
			LogLevel:            "INFO",
			LogFormat:           "console",
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
			MetricsPort:   9464,
		},
		Collector: CollectorConfig{
			Source:                "synthetic",
			StreamTTLSeconds:      120,
			RequestTimeoutSeconds: 10,
			Workers:               8,
			SyntheticPools:        8,
			SyntheticSeed:         42,
		},
		Journal: JournalConfig{
			Backend:        "memory",
			MemoryCapacity: 1024,
		},
		Server: ServerConfig{
			Enabled:    true,
			ListenAddr: ":8787",
		},
	}
}
