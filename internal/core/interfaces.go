// Package core defines the shared interfaces and value types for the
// strategy execution engine.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionCallback observes tracker status updates. Callbacks receive a copy
// of the result and must not assume they run on the caller's goroutine.
type ExecutionCallback func(result *ExecutionResult)

// FilterFunc is one ordered signal filter predicate. Returning false rejects
// the signal; reason is used for logging and the failure message.
type FilterFunc func(sig *TradingSignal) (ok bool, reason string)

// ISignalProcessor normalizes, validates, and deduplicates trading signals
// and maps them to draft execution orders
type ISignalProcessor interface {
	ProcessSignal(sig *TradingSignal) (*ExecutionOrder, error)
	ProcessRaw(raw map[string]interface{}) (*ExecutionOrder, error)
	ProcessBatch(signals []*TradingSignal) []*ExecutionOrder
	ResetDedup()
}

// IPositionManager sizes draft orders against the portfolio ledger and risk
// limits and owns the per-symbol notional ledger
type IPositionManager interface {
	CalculatePositionSize(order *ExecutionOrder, currentPrice decimal.Decimal, snapshot *MarketSnapshot) (int64, *SizingDetails)
	UpdatePosition(symbol string, quantity int64, price decimal.Decimal, action OrderAction)
	GetCurrentPosition(symbol string) decimal.Decimal
	GetPortfolioUtilization() float64
	PortfolioValue() decimal.Decimal
	UpdatePortfolioValue(value decimal.Decimal) error
}

// IExecutionOptimizer splits sized orders into child orders to reduce market
// impact. Splitting is best-effort and never fails the execution path.
type IExecutionOptimizer interface {
	OptimizeExecution(order *ExecutionOrder, snapshot *MarketSnapshot) []*ExecutionOrder
	EstimateMarketImpact(symbol string, quantity int64, snapshot *MarketSnapshot) float64
}

// IExecutionTracker tracks order lifecycle, computes slippage and commission,
// and runs the background status-polling loop
type IExecutionTracker interface {
	TrackOrder(order *ExecutionOrder) (*ExecutionResult, error)
	UpdateOrderStatus(orderID string, status OrderStatus, filledQuantity int64, filledPrice decimal.Decimal, errorMessage string) error
	GetExecutionStatus(orderID string) (*ExecutionResult, error)
	GetExecutionStatistics(symbol string) *ExecutionStats
	AnalyzeSlippage(symbol string, expectedPrice, actualPrice decimal.Decimal, executionTime time.Duration, volumeRatio float64) *SlippageAnalysis
	RegisterCallback(cb ExecutionCallback)
	ActiveOrderCount() int
	StartMonitoring() error
	StopMonitoring() error
	Close()
}

// IOrderRouter dispatches one child order to the configured backend chain.
// The outcome is captured per child and never propagated as an error.
type IOrderRouter interface {
	Dispatch(ctx context.Context, order *ExecutionOrder, dryRun bool) *ChildExecution
}

// IOrderBackend submits orders to an external execution venue
type IOrderBackend interface {
	Submit(ctx context.Context, order *ExecutionOrder) (*DispatchAck, error)
}

// IOrderStatusSource reports external order state for the tracker's poll loop
type IOrderStatusSource interface {
	GetOrder(ctx context.Context, orderID string) (*OrderStatusUpdate, error)
}

// IMarketDataProvider resolves per-symbol liquidity figures when the per-call
// snapshot does not carry them
type IMarketDataProvider interface {
	AvgDailyVolume(symbol string) (int64, bool)
}

// ISizingStrategy computes the target notional for a draft order
type ISizingStrategy interface {
	Name() string
	TargetNotional(order *ExecutionOrder, portfolioValue decimal.Decimal, snapshot *MarketSnapshot) (decimal.Decimal, error)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
