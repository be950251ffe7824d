package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config_test_*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

const minimalYAML = `
execution:
  max_position_size: 100000
  risk_limit: 0.10
  execution_timeout_seconds: 30
  batch_size: 1000
  twap_duration_minutes: 30
position:
  portfolio_value: 1000000
`

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
app:
  name: execd
  log_level: debug
execution:
  max_position_size: 250000
  risk_limit: 0.15
  execution_timeout_seconds: 45
  slippage_tolerance: 0.002
  batch_size: 500
  twap_duration_minutes: 60
  enable_optimization: true
  dry_run: false
signals:
  min_confidence: 0.7
position:
  portfolio_value: 5000000
  concentration_limit: 0.25
  sizing_strategy: risk_based
  percent_of_portfolio: 0.08
  risk_per_trade: 0.03
tracker:
  poll_interval_ms: 500
  stop_timeout_seconds: 10
  callback_queue_size: 512
dispatch:
  rate_limit: 50
  rate_burst: 60
  max_retries: 5
  retry_backoff_ms: 200
  breaker_failures: 3
  breaker_capacity: 10
  breaker_delay_seconds: 30
telemetry:
  enable_metrics: true
  metrics_port: 9100
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "execd", cfg.App.Name)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 250000.0, cfg.Execution.MaxPositionSize)
	assert.Equal(t, 0.15, cfg.Execution.RiskLimit)
	assert.False(t, cfg.Execution.DryRun)
	assert.Equal(t, 0.7, cfg.Signals.MinConfidence)
	assert.Equal(t, "risk_based", cfg.Position.SizingStrategy)
	assert.Equal(t, 500*time.Millisecond, cfg.Tracker.PollInterval())
	assert.Equal(t, 10*time.Second, cfg.Tracker.StopTimeout())
	assert.Equal(t, 50, cfg.Dispatch.RateLimit)
	assert.Equal(t, 200*time.Millisecond, cfg.Dispatch.RetryBackoff())
	assert.Equal(t, 30*time.Second, cfg.Dispatch.BreakerDelay())
	assert.True(t, cfg.Telemetry.EnableMetrics)
	assert.Equal(t, 9100, cfg.Telemetry.MetricsPort)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "execution: [not a mapping")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFile(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "execd", cfg.App.Name)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 0.5, cfg.Signals.MinConfidence)
	assert.Equal(t, 0.20, cfg.Position.ConcentrationLimit)
	assert.Equal(t, "percent_of_portfolio", cfg.Position.SizingStrategy)
	assert.Equal(t, 0.05, cfg.Position.PercentOfPortfolio)
	assert.Equal(t, 1000, cfg.Tracker.PollIntervalMs)
	assert.Equal(t, 5, cfg.Tracker.StopTimeoutSeconds)
	assert.Equal(t, 256, cfg.Tracker.CallbackQueueSize)
	assert.Equal(t, 25, cfg.Dispatch.RateLimit)
	assert.Equal(t, 30, cfg.Dispatch.RateBurst)
	assert.Equal(t, 9091, cfg.Telemetry.MetricsPort)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("EXECD_LOG_LEVEL", "warn")
	t.Setenv("EXECD_PORTFOLIO", "2000000")

	path := writeConfigFile(t, `
app:
  log_level: ${EXECD_LOG_LEVEL}
execution:
  max_position_size: 100000
  risk_limit: 0.10
  execution_timeout_seconds: 30
  batch_size: 1000
  twap_duration_minutes: 30
position:
  portfolio_value: ${EXECD_PORTFOLIO}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.App.LogLevel)
	assert.Equal(t, 2000000.0, cfg.Position.PortfolioValue)
}

func TestLoadConfig_ValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		errorMsg string
	}{
		{
			name: "missing execution section",
			yaml: `
position:
  portfolio_value: 1000000
`,
			errorMsg: "execution.max_position_size",
		},
		{
			name: "risk limit above one",
			yaml: `
execution:
  max_position_size: 100000
  risk_limit: 1.5
  execution_timeout_seconds: 30
  batch_size: 1000
  twap_duration_minutes: 30
position:
  portfolio_value: 1000000
`,
			errorMsg: "execution.risk_limit",
		},
		{
			name: "bad log level",
			yaml: `
app:
  log_level: noisy
` + minimalYAML,
			errorMsg: "app.log_level",
		},
		{
			name: "unknown sizing strategy",
			yaml: minimalYAML + `
  sizing_strategy: martingale
`,
			errorMsg: "position.sizing_strategy",
		},
		{
			name: "burst below rate limit",
			yaml: minimalYAML + `
dispatch:
  rate_limit: 50
  rate_burst: 10
`,
			errorMsg: "dispatch.rate_burst",
		},
		{
			name: "breaker failures above capacity",
			yaml: minimalYAML + `
dispatch:
  breaker_failures: 20
  breaker_capacity: 10
`,
			errorMsg: "dispatch.breaker_failures",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config validation failed")
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestExecutionConfigToCore(t *testing.T) {
	fileCfg := ExecutionConfig{
		MaxPositionSize:         100_000,
		RiskLimit:               0.10,
		ExecutionTimeoutSeconds: 30,
		SlippageTolerance:       0.001,
		BatchSize:               1_000,
		TWAPDurationMinutes:     30,
		EnableOptimization:      true,
		DryRun:                  true,
	}

	coreCfg := fileCfg.ToCore()
	assert.True(t, coreCfg.MaxPositionSize.Equal(decimal.NewFromInt(100_000)))
	assert.Equal(t, 0.10, coreCfg.RiskLimit)
	assert.Equal(t, 30*time.Second, coreCfg.ExecutionTimeout)
	assert.Equal(t, 30*time.Minute, coreCfg.TWAPDuration)
	assert.Equal(t, int64(1_000), coreCfg.BatchSize)
	assert.True(t, coreCfg.EnableOptimization)
	assert.True(t, coreCfg.DryRun)
	assert.NoError(t, coreCfg.Validate())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Execution.DryRun, "defaults must never reach a live venue")
	assert.True(t, cfg.Execution.EnableOptimization)
	assert.Equal(t, "execd", cfg.App.Name)
}
