// Package engine orchestrates the signal execution pipeline: signal
// processing, position sizing, execution optimization, dispatch, and
// tracking. Entry points always return a structured report, never a raw
// error or a panic.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	apperrors "github.com/0Smallcat0/ai-trading-sub017/pkg/errors"
	"github.com/0Smallcat0/ai-trading-sub017/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Engine wires the pipeline components behind one execution mutex. Batch
// execution is strictly sequential; the tracker's monitor goroutine is the
// only background actor.
type Engine struct {
	cfg       *core.ExecutionConfig
	processor core.ISignalProcessor
	positions core.IPositionManager
	optimizer core.IExecutionOptimizer
	tracker   core.IExecutionTracker
	router    core.IOrderRouter
	logger    core.ILogger

	mu sync.Mutex

	// OTel
	tracer           trace.Tracer
	signalCounter    metric.Int64Counter
	processedCounter metric.Int64Counter
	executedCounter  metric.Int64Counter
	failedCounter    metric.Int64Counter
	latencyHist      metric.Float64Histogram

	totalSignals     atomic.Int64
	processedSignals atomic.Int64
	executedOrders   atomic.Int64
	failedOrders     atomic.Int64
}

// NewEngine creates an execution engine from its components. cfg is shared
// with the optimizer and mutated in place by UpdateConfig.
func NewEngine(
	cfg *core.ExecutionConfig,
	processor core.ISignalProcessor,
	positions core.IPositionManager,
	optimizer core.IExecutionOptimizer,
	tracker core.IExecutionTracker,
	router core.IOrderRouter,
	logger core.ILogger,
) *Engine {
	if cfg == nil {
		cfg = core.DefaultExecutionConfig()
	}

	tracer := telemetry.GetTracer("execution-engine")
	meter := telemetry.GetMeter("execution-engine")

	signalCounter, _ := meter.Int64Counter(telemetry.MetricSignalsTotal,
		metric.WithDescription("Total signals received"))
	processedCounter, _ := meter.Int64Counter(telemetry.MetricSignalsProcessed,
		metric.WithDescription("Signals that produced an execution order"))
	executedCounter, _ := meter.Int64Counter(telemetry.MetricOrdersExecuted,
		metric.WithDescription("Child orders dispatched successfully"))
	failedCounter, _ := meter.Int64Counter(telemetry.MetricOrdersFailed,
		metric.WithDescription("Child orders whose dispatch failed"))
	latencyHist, _ := meter.Float64Histogram(telemetry.MetricSignalLatency,
		metric.WithDescription("End-to-end signal execution latency"), metric.WithUnit("ms"))

	return &Engine{
		cfg:              cfg,
		processor:        processor,
		positions:        positions,
		optimizer:        optimizer,
		tracker:          tracker,
		router:           router,
		logger:           logger.WithField("component", "execution_engine"),
		tracer:           tracer,
		signalCounter:    signalCounter,
		processedCounter: processedCounter,
		executedCounter:  executedCounter,
		failedCounter:    failedCounter,
		latencyHist:      latencyHist,
	}
}

// ExecuteStrategySignal runs one signal through the full pipeline and
// reports the outcome. Rejections, failures, and panics all surface as
// failure reports with the report data filled as far as the pipeline got.
func (e *Engine) ExecuteStrategySignal(ctx context.Context, sig *core.TradingSignal, snapshot *core.MarketSnapshot) (report *core.ExecutionReport) {
	start := time.Now()
	e.totalSignals.Add(1)

	report = &core.ExecutionReport{
		ExecutionID: uuid.NewString(),
		Timestamp:   time.Now(),
		Data:        core.ReportData{OriginalSignal: sig},
	}

	symbol := ""
	if sig != nil {
		symbol = sig.Symbol
	}
	ctx, span := e.tracer.Start(ctx, "ExecuteStrategySignal",
		trace.WithAttributes(attribute.String("symbol", symbol)),
	)
	defer span.End()

	e.signalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
	defer func() {
		e.latencyHist.Record(ctx, float64(time.Since(start).Microseconds())/1000.0,
			metric.WithAttributes(attribute.String("symbol", symbol)))
	}()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Signal execution panicked", "symbol", symbol, "panic", r)
			span.RecordError(fmt.Errorf("panic: %v", r))
			report.Success = false
			report.Message = fmt.Sprintf("execution failed: %v", r)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	// 1. Signal processing
	order, err := e.processor.ProcessSignal(sig)
	if err != nil {
		report.Message = "signal rejected: " + err.Error()
		if errors.Is(err, apperrors.ErrHoldSignal) {
			e.logger.Debug("Hold signal, nothing to execute", "symbol", symbol)
		} else {
			e.logger.Info("Signal rejected", "symbol", symbol, "reason", err.Error())
		}
		return report
	}
	e.processedSignals.Add(1)
	e.processedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", order.Symbol)))
	report.Data.ProcessedOrder = order

	// 2. Market context
	currentPrice, _ := snapshot.Price(order.Symbol)
	report.Data.CurrentPrice = currentPrice

	// 3. Position sizing and risk checks
	quantity, details := e.positions.CalculatePositionSize(order, currentPrice, snapshot)
	report.Data.PositionDetails = details
	if quantity <= 0 {
		reason := "position sizing returned no quantity"
		if details != nil && len(details.Reasons) > 0 {
			reason = strings.Join(details.Reasons, "; ")
		}
		report.Message = "order rejected: " + reason
		e.logger.Info("Order rejected by position sizing", "symbol", order.Symbol, "reason", reason)
		return report
	}
	order.Quantity = quantity

	impact := e.optimizer.EstimateMarketImpact(order.Symbol, order.Quantity, snapshot)
	e.logger.Debug("Estimated market impact",
		"symbol", order.Symbol,
		"quantity", order.Quantity,
		"impact_bps", impact,
	)

	// 4. Execution optimization
	children := e.optimizer.OptimizeExecution(order, snapshot)
	report.Data.OptimizedOrders = len(children)

	// 5. Track and dispatch every child; one failure never blocks the rest
	succeeded := 0
	for _, child := range children {
		if _, err := e.tracker.TrackOrder(child); err != nil {
			e.logger.Warn("Order tracking failed", "order_id", child.OrderID, "error", err)
		}

		dispatchCtx := ctx
		cancel := func() {}
		if e.cfg.ExecutionTimeout > 0 {
			dispatchCtx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
		}
		outcome := e.router.Dispatch(dispatchCtx, child, e.cfg.DryRun)
		cancel()

		report.Data.ExecutionResults = append(report.Data.ExecutionResults, outcome)
		if outcome.Success {
			succeeded++
			e.executedOrders.Add(1)
			e.executedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", order.Symbol)))
			// The monitor may complete the order first, that race is benign
			if err := e.tracker.UpdateOrderStatus(child.OrderID, core.StatusProcessing, 0, decimal.Decimal{}, ""); err != nil {
				e.logger.Debug("Post-dispatch status update skipped", "order_id", child.OrderID, "error", err)
			}
		} else {
			e.failedOrders.Add(1)
			e.failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", order.Symbol)))
			if err := e.tracker.UpdateOrderStatus(child.OrderID, core.StatusFailed, 0, decimal.Decimal{}, outcome.Message); err != nil {
				e.logger.Debug("Post-dispatch status update skipped", "order_id", child.OrderID, "error", err)
			}
		}
	}

	// 6. Position update once per signal, only when something went out
	if succeeded > 0 && details != nil {
		e.positions.UpdatePosition(order.Symbol, order.Quantity, details.EffectivePrice, order.Action)
	}

	report.Success = succeeded > 0
	if report.Success {
		report.Message = fmt.Sprintf("executed %d/%d child orders", succeeded, len(children))
	} else {
		report.Message = "all child orders failed"
	}
	e.logger.Info("Signal execution finished",
		"symbol", order.Symbol,
		"execution_id", report.ExecutionID,
		"success", report.Success,
		"children", len(children),
		"succeeded", succeeded,
	)
	return report
}

// ExecuteSignalsBatch executes signals sequentially in input order. A failed
// signal never aborts the rest of the batch.
func (e *Engine) ExecuteSignalsBatch(ctx context.Context, signals []*core.TradingSignal, snapshot *core.MarketSnapshot) []*core.ExecutionReport {
	reports := make([]*core.ExecutionReport, 0, len(signals))
	for _, sig := range signals {
		reports = append(reports, e.ExecuteStrategySignal(ctx, sig, snapshot))
	}
	return reports
}

// GetExecutionStatus returns the tracked result for an order
func (e *Engine) GetExecutionStatus(orderID string) (*core.ExecutionResult, error) {
	return e.tracker.GetExecutionStatus(orderID)
}

// GetExecutionStatistics merges engine counters with tracker and portfolio
// state
func (e *Engine) GetExecutionStatistics() *core.EngineStats {
	return &core.EngineStats{
		TotalSignals:         e.totalSignals.Load(),
		ProcessedSignals:     e.processedSignals.Load(),
		ExecutedOrders:       e.executedOrders.Load(),
		FailedOrders:         e.failedOrders.Load(),
		ActiveOrders:         e.tracker.ActiveOrderCount(),
		PortfolioValue:       e.positions.PortfolioValue(),
		PortfolioUtilization: e.positions.GetPortfolioUtilization(),
		Tracker:              e.tracker.GetExecutionStatistics(""),
	}
}

// UpdateConfig replaces the execution configuration in place after
// validation, so components sharing the pointer observe the new values
func (e *Engine) UpdateConfig(cfg *core.ExecutionConfig) error {
	if cfg == nil {
		return &core.ValidationError{Field: "config", Message: "config is nil"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	*e.cfg = *cfg
	e.logger.Info("Execution config updated",
		"max_position_size", cfg.MaxPositionSize,
		"risk_limit", cfg.RiskLimit,
		"dry_run", cfg.DryRun,
	)
	return nil
}

// Config returns a copy of the current execution configuration
func (e *Engine) Config() *core.ExecutionConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// UpdatePortfolioValue adjusts the sizing base
func (e *Engine) UpdatePortfolioValue(value decimal.Decimal) error {
	return e.positions.UpdatePortfolioValue(value)
}

// RegisterCallback registers an execution status observer
func (e *Engine) RegisterCallback(cb core.ExecutionCallback) {
	e.tracker.RegisterCallback(cb)
}

// StartMonitoring starts the tracker's background status poller
func (e *Engine) StartMonitoring() error {
	return e.tracker.StartMonitoring()
}

// StopMonitoring stops the tracker's background status poller
func (e *Engine) StopMonitoring() error {
	return e.tracker.StopMonitoring()
}

// Close stops monitoring and releases tracker resources
func (e *Engine) Close() {
	e.tracker.Close()
	e.logger.Info("Execution engine closed")
}
