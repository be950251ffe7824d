package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionConfig is the process-wide execution tuning. The engine owns it and
// shares it by pointer with the position manager and optimizer; UpdateConfig
// swaps the values under the engine's lock.
type ExecutionConfig struct {
	MaxPositionSize    decimal.Decimal `json:"max_position_size"`
	RiskLimit          float64         `json:"risk_limit"`
	ExecutionTimeout   time.Duration   `json:"execution_timeout"`
	SlippageTolerance  float64         `json:"slippage_tolerance"`
	BatchSize          int64           `json:"batch_size"`
	TWAPDuration       time.Duration   `json:"twap_duration"`
	EnableOptimization bool            `json:"enable_optimization"`
	DryRun             bool            `json:"dry_run"`
}

// DefaultExecutionConfig returns the documented defaults. Dry-run is on so a
// fresh deployment never reaches a live backend by accident.
func DefaultExecutionConfig() *ExecutionConfig {
	return &ExecutionConfig{
		MaxPositionSize:    decimal.NewFromInt(100_000),
		RiskLimit:          0.10,
		ExecutionTimeout:   30 * time.Second,
		SlippageTolerance:  0.001,
		BatchSize:          1_000,
		TWAPDuration:       30 * time.Minute,
		EnableOptimization: true,
		DryRun:             true,
	}
}

// Validate checks the config invariants before it is accepted by the engine
func (c *ExecutionConfig) Validate() error {
	if !c.MaxPositionSize.IsPositive() {
		return &ValidationError{Field: "max_position_size", Value: c.MaxPositionSize.String(), Message: "must be positive"}
	}
	if c.RiskLimit <= 0 || c.RiskLimit > 1 {
		return &ValidationError{Field: "risk_limit", Value: c.RiskLimit, Message: "must be within (0, 1]"}
	}
	if c.ExecutionTimeout <= 0 {
		return &ValidationError{Field: "execution_timeout", Value: c.ExecutionTimeout.String(), Message: "must be positive"}
	}
	if c.SlippageTolerance < 0 {
		return &ValidationError{Field: "slippage_tolerance", Value: c.SlippageTolerance, Message: "must not be negative"}
	}
	if c.BatchSize <= 0 {
		return &ValidationError{Field: "batch_size", Value: c.BatchSize, Message: "must be positive"}
	}
	if c.TWAPDuration <= 0 {
		return &ValidationError{Field: "twap_duration", Value: c.TWAPDuration.String(), Message: "must be positive"}
	}
	return nil
}

// Clone returns a copy so callers can mutate a draft before UpdateConfig
func (c *ExecutionConfig) Clone() *ExecutionConfig {
	cp := *c
	return &cp
}
