// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Execution ExecutionConfig `yaml:"execution"`
	Signals   SignalsConfig   `yaml:"signals"`
	Position  PositionConfig  `yaml:"position"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// ExecutionConfig is the file-facing form of core.ExecutionConfig
type ExecutionConfig struct {
	MaxPositionSize         float64 `yaml:"max_position_size" validate:"required,min=0"`
	RiskLimit               float64 `yaml:"risk_limit" validate:"required,min=0,max=1"`
	ExecutionTimeoutSeconds int     `yaml:"execution_timeout_seconds" validate:"min=1,max=3600"`
	SlippageTolerance       float64 `yaml:"slippage_tolerance" validate:"min=0"`
	BatchSize               int64   `yaml:"batch_size" validate:"min=1"`
	TWAPDurationMinutes     int     `yaml:"twap_duration_minutes" validate:"min=1,max=1440"`
	EnableOptimization      bool    `yaml:"enable_optimization"`
	DryRun                  bool    `yaml:"dry_run"`
}

// ToCore converts the file-facing execution section into the engine's config
func (e *ExecutionConfig) ToCore() *core.ExecutionConfig {
	return &core.ExecutionConfig{
		MaxPositionSize:    decimal.NewFromFloat(e.MaxPositionSize),
		RiskLimit:          e.RiskLimit,
		ExecutionTimeout:   time.Duration(e.ExecutionTimeoutSeconds) * time.Second,
		SlippageTolerance:  e.SlippageTolerance,
		BatchSize:          e.BatchSize,
		TWAPDuration:       time.Duration(e.TWAPDurationMinutes) * time.Minute,
		EnableOptimization: e.EnableOptimization,
		DryRun:             e.DryRun,
	}
}

// SignalsConfig tunes the signal processor
type SignalsConfig struct {
	MinConfidence float64 `yaml:"min_confidence" validate:"min=0,max=1"`
}

// PositionConfig tunes the position manager
type PositionConfig struct {
	PortfolioValue     float64 `yaml:"portfolio_value" validate:"required,min=0"`
	ConcentrationLimit float64 `yaml:"concentration_limit" validate:"min=0,max=1"`
	SizingStrategy     string  `yaml:"sizing_strategy" validate:"oneof=percent_of_portfolio risk_based volatility_scaled"`
	PercentOfPortfolio float64 `yaml:"percent_of_portfolio" validate:"min=0,max=1"`
	RiskPerTrade       float64 `yaml:"risk_per_trade" validate:"min=0,max=1"`
}

// TrackerConfig tunes the execution tracker
type TrackerConfig struct {
	PollIntervalMs     int `yaml:"poll_interval_ms" validate:"min=10,max=60000"`
	StopTimeoutSeconds int `yaml:"stop_timeout_seconds" validate:"min=1,max=60"`
	CallbackQueueSize  int `yaml:"callback_queue_size" validate:"min=1,max=10000"`
}

// PollInterval returns the poll interval as a duration
func (t *TrackerConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

// StopTimeout returns the stop timeout as a duration
func (t *TrackerConfig) StopTimeout() time.Duration {
	return time.Duration(t.StopTimeoutSeconds) * time.Second
}

// DispatchConfig tunes the order router
type DispatchConfig struct {
	RateLimit           int `yaml:"rate_limit" validate:"min=1,max=1000"`
	RateBurst           int `yaml:"rate_burst" validate:"min=1,max=1000"`
	MaxRetries          int `yaml:"max_retries" validate:"min=0,max=10"`
	RetryBackoffMs      int `yaml:"retry_backoff_ms" validate:"min=10,max=10000"`
	BreakerFailures     int `yaml:"breaker_failures" validate:"min=1,max=100"`
	BreakerCapacity     int `yaml:"breaker_capacity" validate:"min=1,max=100"`
	BreakerDelaySeconds int `yaml:"breaker_delay_seconds" validate:"min=1,max=300"`
}

// RetryBackoff returns the initial retry backoff as a duration
func (d *DispatchConfig) RetryBackoff() time.Duration {
	return time.Duration(d.RetryBackoffMs) * time.Millisecond
}

// BreakerDelay returns the breaker half-open delay as a duration
func (d *DispatchConfig) BreakerDelay() time.Duration {
	return time.Duration(d.BreakerDelaySeconds) * time.Second
}

// TelemetryConfig controls metrics export
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	MetricsPort   int  `yaml:"metrics_port" validate:"min=1,max=65535"`
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

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills zero-valued optional fields before validation
func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "execd"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Signals.MinConfidence == 0 {
		c.Signals.MinConfidence = 0.5
	}
	if c.Position.ConcentrationLimit == 0 {
		c.Position.ConcentrationLimit = 0.20
	}
	if c.Position.SizingStrategy == "" {
		c.Position.SizingStrategy = "percent_of_portfolio"
	}
	if c.Position.PercentOfPortfolio == 0 {
		c.Position.PercentOfPortfolio = 0.05
	}
	if c.Position.RiskPerTrade == 0 {
		c.Position.RiskPerTrade = 0.02
	}
	if c.Tracker.PollIntervalMs == 0 {
		c.Tracker.PollIntervalMs = 1000
	}
	if c.Tracker.StopTimeoutSeconds == 0 {
		c.Tracker.StopTimeoutSeconds = 5
	}
	if c.Tracker.CallbackQueueSize == 0 {
		c.Tracker.CallbackQueueSize = 256
	}
	if c.Dispatch.RateLimit == 0 {
		c.Dispatch.RateLimit = 25
	}
	if c.Dispatch.RateBurst == 0 {
		c.Dispatch.RateBurst = 30
	}
	if c.Dispatch.RetryBackoffMs == 0 {
		c.Dispatch.RetryBackoffMs = 100
	}
	if c.Dispatch.BreakerFailures == 0 {
		c.Dispatch.BreakerFailures = 5
	}
	if c.Dispatch.BreakerCapacity == 0 {
		c.Dispatch.BreakerCapacity = 10
	}
	if c.Dispatch.BreakerDelaySeconds == 0 {
		c.Dispatch.BreakerDelaySeconds = 10
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9091
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateExecutionConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSignalsConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validatePositionConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateTrackerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateDispatchConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateTelemetryConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.App.LogLevel)) {
		return &core.ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateExecutionConfig() error {
	if c.Execution.MaxPositionSize <= 0 {
		return &core.ValidationError{
			Field:   "execution.max_position_size",
			Value:   c.Execution.MaxPositionSize,
			Message: "must be positive",
		}
	}
	if c.Execution.RiskLimit <= 0 || c.Execution.RiskLimit > 1 {
		return &core.ValidationError{
			Field:   "execution.risk_limit",
			Value:   c.Execution.RiskLimit,
			Message: "must be within (0, 1]",
		}
	}
	if c.Execution.ExecutionTimeoutSeconds <= 0 {
		return &core.ValidationError{
			Field:   "execution.execution_timeout_seconds",
			Value:   c.Execution.ExecutionTimeoutSeconds,
			Message: "must be positive",
		}
	}
	if c.Execution.SlippageTolerance < 0 {
		return &core.ValidationError{
			Field:   "execution.slippage_tolerance",
			Value:   c.Execution.SlippageTolerance,
			Message: "must not be negative",
		}
	}
	if c.Execution.BatchSize <= 0 {
		return &core.ValidationError{
			Field:   "execution.batch_size",
			Value:   c.Execution.BatchSize,
			Message: "must be positive",
		}
	}
	if c.Execution.TWAPDurationMinutes <= 0 {
		return &core.ValidationError{
			Field:   "execution.twap_duration_minutes",
			Value:   c.Execution.TWAPDurationMinutes,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateSignalsConfig() error {
	if c.Signals.MinConfidence < 0 || c.Signals.MinConfidence > 1 {
		return &core.ValidationError{
			Field:   "signals.min_confidence",
			Value:   c.Signals.MinConfidence,
			Message: "must be within [0, 1]",
		}
	}
	return nil
}

func (c *Config) validatePositionConfig() error {
	if c.Position.PortfolioValue <= 0 {
		return &core.ValidationError{
			Field:   "position.portfolio_value",
			Value:   c.Position.PortfolioValue,
			Message: "must be positive",
		}
	}
	if c.Position.ConcentrationLimit <= 0 || c.Position.ConcentrationLimit > 1 {
		return &core.ValidationError{
			Field:   "position.concentration_limit",
			Value:   c.Position.ConcentrationLimit,
			Message: "must be within (0, 1]",
		}
	}
	validStrategies := []string{"percent_of_portfolio", "risk_based", "volatility_scaled"}
	if !contains(validStrategies, c.Position.SizingStrategy) {
		return &core.ValidationError{
			Field:   "position.sizing_strategy",
			Value:   c.Position.SizingStrategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validStrategies, ", ")),
		}
	}
	if c.Position.PercentOfPortfolio <= 0 || c.Position.PercentOfPortfolio > 1 {
		return &core.ValidationError{
			Field:   "position.percent_of_portfolio",
			Value:   c.Position.PercentOfPortfolio,
			Message: "must be within (0, 1]",
		}
	}
	if c.Position.RiskPerTrade <= 0 || c.Position.RiskPerTrade > 1 {
		return &core.ValidationError{
			Field:   "position.risk_per_trade",
			Value:   c.Position.RiskPerTrade,
			Message: "must be within (0, 1]",
		}
	}
	return nil
}

func (c *Config) validateTrackerConfig() error {
	if c.Tracker.PollIntervalMs < 10 {
		return &core.ValidationError{
			Field:   "tracker.poll_interval_ms",
			Value:   c.Tracker.PollIntervalMs,
			Message: "must be at least 10",
		}
	}
	if c.Tracker.StopTimeoutSeconds <= 0 {
		return &core.ValidationError{
			Field:   "tracker.stop_timeout_seconds",
			Value:   c.Tracker.StopTimeoutSeconds,
			Message: "must be positive",
		}
	}
	if c.Tracker.CallbackQueueSize <= 0 {
		return &core.ValidationError{
			Field:   "tracker.callback_queue_size",
			Value:   c.Tracker.CallbackQueueSize,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateDispatchConfig() error {
	if c.Dispatch.RateLimit <= 0 {
		return &core.ValidationError{
			Field:   "dispatch.rate_limit",
			Value:   c.Dispatch.RateLimit,
			Message: "must be positive",
		}
	}
	if c.Dispatch.RateBurst < c.Dispatch.RateLimit {
		return &core.ValidationError{
			Field:   "dispatch.rate_burst",
			Value:   c.Dispatch.RateBurst,
			Message: "must be at least the rate limit",
		}
	}
	if c.Dispatch.MaxRetries < 0 {
		return &core.ValidationError{
			Field:   "dispatch.max_retries",
			Value:   c.Dispatch.MaxRetries,
			Message: "must not be negative",
		}
	}
	if c.Dispatch.BreakerFailures > c.Dispatch.BreakerCapacity {
		return &core.ValidationError{
			Field:   "dispatch.breaker_failures",
			Value:   c.Dispatch.BreakerFailures,
			Message: "must not exceed breaker_capacity",
		}
	}
	return nil
}

func (c *Config) validateTelemetryConfig() error {
	if c.Telemetry.MetricsPort <= 0 || c.Telemetry.MetricsPort > 65535 {
		return &core.ValidationError{
			Field:   "telemetry.metrics_port",
			Value:   c.Telemetry.MetricsPort,
			Message: "must be a valid TCP port",
		}
	}
	return nil
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
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
	cfg := &Config{
		App: AppConfig{
			Name:     "execd",
			LogLevel: "info",
		},
		Execution: ExecutionConfig{
			MaxPositionSize:         100_000,
			RiskLimit:               0.10,
			ExecutionTimeoutSeconds: 30,
			SlippageTolerance:       0.001,
			BatchSize:               1_000,
			TWAPDurationMinutes:     30,
			EnableOptimization:      true,
			DryRun:                  true,
		},
		Position: PositionConfig{
			PortfolioValue: 1_000_000,
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
		},
	}
	cfg.applyDefaults()
	return cfg
}
