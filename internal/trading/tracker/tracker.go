// Package tracker owns the order execution lifecycle: status transitions,
// fill accounting, slippage and commission, and the background status poller.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	"github.com/0Smallcat0/ai-trading-sub017/pkg/concurrency"
	apperrors "github.com/0Smallcat0/ai-trading-sub017/pkg/errors"
	"github.com/0Smallcat0/ai-trading-sub017/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultPollInterval = time.Second
	DefaultStopTimeout  = 5 * time.Second

	defaultCallbackQueueSize = 256

	// linearImpactFactor scales volume ratio to impact bps in slippage reports
	linearImpactFactor = 10.0
)

// commissionRate is applied to filled notional on every priced update
var commissionRate = decimal.NewFromFloat(0.001425)

// Config holds tracker tuning knobs
type Config struct {
	PollInterval      time.Duration
	StopTimeout       time.Duration
	CallbackQueueSize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.CallbackQueueSize <= 0 {
		c.CallbackQueueSize = defaultCallbackQueueSize
	}
	return c
}

// trackedOrder pairs the submitted order with its mutable result so slippage
// can be computed against the expected price
type trackedOrder struct {
	order  *core.ExecutionOrder
	result *core.ExecutionResult
}

// Tracker tracks active executions and their history. One mutex guards the
// active map, the history, and the callback registry; callbacks run on a
// single-worker pool so they observe updates in submission order.
type Tracker struct {
	cfg     Config
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
	source  core.IOrderStatusSource

	slippageHist metric.Float64Histogram

	mu        sync.Mutex
	active    map[string]*trackedOrder
	history   []*trackedOrder
	callbacks []core.ExecutionCallback
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	callbackPool *concurrency.WorkerPool
}

// NewTracker creates a tracker. The status source is optional; without one
// the monitor loop runs but has nothing to poll.
func NewTracker(cfg Config, source core.IOrderStatusSource, logger core.ILogger) *Tracker {
	cfg = cfg.withDefaults()
	log := logger.WithField("component", "execution_tracker")

	meter := telemetry.GetMeter("execution_tracker")
	slippageHist, _ := meter.Float64Histogram(telemetry.MetricSlippageBps,
		metric.WithDescription("Per-fill slippage in basis points"))

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "execution-callbacks",
		MaxWorkers:  1,
		MaxCapacity: cfg.CallbackQueueSize,
		NonBlocking: true,
	}, logger)

	return &Tracker{
		cfg:          cfg,
		logger:       log,
		metrics:      telemetry.GetGlobalMetrics(),
		source:       source,
		slippageHist: slippageHist,
		active:       make(map[string]*trackedOrder),
		callbackPool: pool,
	}
}

// TrackOrder registers an order for lifecycle tracking and returns its
// PENDING result
func (t *Tracker) TrackOrder(order *core.ExecutionOrder) (*core.ExecutionResult, error) {
	if order == nil {
		return nil, &core.ValidationError{Field: "order", Message: "order is nil"}
	}
	if order.OrderID == "" {
		return nil, &core.ValidationError{Field: "order_id", Message: "order id is empty"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[order.OrderID]; exists {
		return nil, fmt.Errorf("order %s: %w", order.OrderID, apperrors.ErrDuplicateOrder)
	}

	result := &core.ExecutionResult{
		ExecutionID:   "exec-" + uuid.NewString(),
		OrderID:       order.OrderID,
		Status:        core.StatusPending,
		ExecutionTime: time.Now(),
	}
	t.active[order.OrderID] = &trackedOrder{order: order, result: result}
	t.metrics.SetActiveOrders(order.Symbol, t.activeCountLocked(order.Symbol))

	t.logger.Debug("Tracking order",
		"order_id", order.OrderID,
		"execution_id", result.ExecutionID,
		"symbol", order.Symbol,
	)
	return result.Clone(), nil
}

// UpdateOrderStatus applies one lifecycle transition. Fills update quantity,
// price, slippage, and commission; terminal states move the result to history
// and it is never mutated afterwards. Callbacks fire after every accepted
// update.
func (t *Tracker) UpdateOrderStatus(orderID string, status core.OrderStatus, filledQuantity int64, filledPrice decimal.Decimal, errorMessage string) error {
	if !status.Valid() {
		return &core.ValidationError{Field: "status", Value: string(status), Message: "unknown order status"}
	}

	t.mu.Lock()
	tracked, exists := t.active[orderID]
	if !exists {
		t.mu.Unlock()
		return fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}

	result := tracked.result
	if !transitionAllowed(result.Status, status) {
		from := result.Status
		t.mu.Unlock()
		return fmt.Errorf("order %s: %s -> %s: %w", orderID, from, status, apperrors.ErrInvalidTransition)
	}

	result.Status = status
	result.ExecutionTime = time.Now()
	if filledQuantity > 0 {
		result.FilledQuantity = filledQuantity
	}
	if errorMessage != "" {
		result.ErrorMessage = errorMessage
	}
	if filledPrice.IsPositive() {
		result.FilledPrice = filledPrice
		result.Slippage = signedSlippage(tracked.order, filledPrice)
		result.Commission = decimal.NewFromInt(result.FilledQuantity).Mul(filledPrice).Mul(commissionRate)

		if expected := tracked.order.Price; expected.IsPositive() {
			bps := filledPrice.Sub(expected).Abs().Div(expected).Mul(decimal.NewFromInt(10_000)).InexactFloat64()
			t.slippageHist.Record(context.Background(), bps,
				metric.WithAttributes(attribute.String("symbol", tracked.order.Symbol)))
		}
	}

	if status.Terminal() {
		delete(t.active, orderID)
		t.history = append(t.history, tracked)
		t.metrics.SetActiveOrders(tracked.order.Symbol, t.activeCountLocked(tracked.order.Symbol))
	}

	t.logger.Info("Order status updated",
		"order_id", orderID,
		"status", status,
		"filled_quantity", result.FilledQuantity,
	)

	t.notifyLocked(result)
	t.mu.Unlock()
	return nil
}

// transitionAllowed encodes PENDING -> PROCESSING -> terminal, with PENDING
// allowed to jump straight to a terminal state (fast reject). Re-asserting
// the current non-terminal state is a legal no-op so repeated polls do not
// error.
func transitionAllowed(from, to core.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case core.StatusPending:
		return true
	case core.StatusProcessing:
		return to != core.StatusPending
	}
	return false
}

// signedSlippage is positive when the fill is worse than expected for the
// order's direction: buys above the expected price, sells below it.
func signedSlippage(order *core.ExecutionOrder, filledPrice decimal.Decimal) decimal.Decimal {
	expected := order.Price
	if !expected.IsPositive() {
		return decimal.Zero
	}
	if order.Action == core.ActionSell {
		return expected.Sub(filledPrice)
	}
	return filledPrice.Sub(expected)
}

// notifyLocked hands a snapshot of the result to every registered callback.
// Caller holds t.mu; tasks are submitted in registration order onto the
// single-worker pool, so cross-update ordering is preserved. Each callback is
// its own task, so one panicking callback is recovered by the pool without
// affecting the others.
func (t *Tracker) notifyLocked(result *core.ExecutionResult) {
	for i, cb := range t.callbacks {
		cb := cb
		snapshot := result.Clone()
		if err := t.callbackPool.Submit(func() { cb(snapshot) }); err != nil {
			t.logger.Warn("Execution callback dropped",
				"order_id", result.OrderID,
				"callback_index", i,
				"error", err,
			)
		}
	}
}

// RegisterCallback appends an observer. Registration order is invocation
// order.
func (t *Tracker) RegisterCallback(cb core.ExecutionCallback) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// GetExecutionStatus returns the result for an order, checking active orders
// first and then the most recent history entry
func (t *Tracker) GetExecutionStatus(orderID string) (*core.ExecutionResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tracked, exists := t.active[orderID]; exists {
		return tracked.result.Clone(), nil
	}
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].result.OrderID == orderID {
			return t.history[i].result.Clone(), nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
}

// GetExecutionStatistics aggregates lifecycle stats, optionally restricted to
// one symbol. Mean slippage averages over completed executions that filled.
func (t *Tracker) GetExecutionStatistics(symbol string) *core.ExecutionStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := &core.ExecutionStats{}
	var slippageSum decimal.Decimal
	var slippageCount int64

	for _, tracked := range t.active {
		if symbol != "" && tracked.order.Symbol != symbol {
			continue
		}
		stats.TotalExecutions++
	}
	for _, tracked := range t.history {
		if symbol != "" && tracked.order.Symbol != symbol {
			continue
		}
		stats.TotalExecutions++
		res := tracked.result
		switch res.Status {
		case core.StatusCompleted:
			stats.Completed++
			stats.TotalCommission = stats.TotalCommission.Add(res.Commission)
			if res.FilledQuantity > 0 {
				slippageSum = slippageSum.Add(res.Slippage)
				slippageCount++
			}
		case core.StatusFailed:
			stats.Failed++
		}
	}

	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.TotalExecutions)
	}
	if slippageCount > 0 {
		stats.AvgSlippage = slippageSum.Div(decimal.NewFromInt(slippageCount))
	}
	if stats.Completed > 0 {
		stats.AvgCommission = stats.TotalCommission.Div(decimal.NewFromInt(stats.Completed))
	}
	return stats
}

// AnalyzeSlippage builds an on-demand slippage report for one execution. The
// impact estimate here is linear in the participation ratio.
func (t *Tracker) AnalyzeSlippage(symbol string, expectedPrice, actualPrice decimal.Decimal, executionTime time.Duration, volumeRatio float64) *core.SlippageAnalysis {
	var bps float64
	if expectedPrice.IsPositive() {
		bps = actualPrice.Sub(expectedPrice).Abs().Div(expectedPrice).Mul(decimal.NewFromInt(10_000)).InexactFloat64()
	}
	return &core.SlippageAnalysis{
		Symbol:          symbol,
		ExpectedPrice:   expectedPrice,
		ActualPrice:     actualPrice,
		SlippageBps:     bps,
		MarketImpactBps: volumeRatio * linearImpactFactor,
		ExecutionTime:   executionTime,
		VolumeRatio:     volumeRatio,
	}
}

// ActiveOrderCount returns the number of orders in a non-terminal state
func (t *Tracker) ActiveOrderCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *Tracker) activeCountLocked(symbol string) int64 {
	var n int64
	for _, tracked := range t.active {
		if tracked.order.Symbol == symbol {
			n++
		}
	}
	return n
}

// StartMonitoring spawns the background status poller. A second call while
// running is a warned no-op.
func (t *Tracker) StartMonitoring() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		t.logger.Warn("Execution monitoring already running")
		return apperrors.ErrMonitorRunning
	}

	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	t.running = true
	go t.monitorLoop(t.stopCh, t.doneCh)

	t.logger.Info("Execution monitoring started", "poll_interval", t.cfg.PollInterval)
	return nil
}

// StopMonitoring signals the poller to stop and waits for it, bounded by the
// stop timeout. Calling it when not running is a no-op.
func (t *Tracker) StopMonitoring() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	stopCh, doneCh := t.stopCh, t.doneCh
	t.running = false
	t.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		t.logger.Info("Execution monitoring stopped")
		return nil
	case <-time.After(t.cfg.StopTimeout):
		t.logger.Error("Monitor worker did not stop in time", "timeout", t.cfg.StopTimeout)
		return apperrors.ErrStopTimeout
	}
}

// Close stops monitoring and drains the callback pool
func (t *Tracker) Close() {
	_ = t.StopMonitoring()
	t.callbackPool.Stop()
	stats := t.callbackPool.Stats()
	t.logger.Debug("Callback pool drained",
		"delivered", stats.Completed,
		"failed", stats.Failed,
	)
}

func (t *Tracker) monitorLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.pollOnce()
		}
	}
}

// pollOnce queries the status source for every active order and applies the
// resulting transitions. Any panic is recovered so the loop survives a bad
// cycle.
func (t *Tracker) pollOnce() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Monitoring cycle panicked", "panic", r)
		}
	}()

	if t.source == nil {
		return
	}

	t.mu.Lock()
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PollInterval)
	defer cancel()

	for _, id := range ids {
		update, err := t.source.GetOrder(ctx, id)
		if err != nil {
			t.logger.Warn("Order status query failed", "order_id", id, "error", err)
			continue
		}
		if update == nil {
			continue
		}

		status, ok := mapExternalStatus(update.Status)
		if !ok {
			t.logger.Warn("Unknown external order status", "order_id", id, "status", update.Status)
			continue
		}

		if err := t.UpdateOrderStatus(id, status, update.FilledQuantity, update.FilledPrice, update.ErrorMessage); err != nil {
			if !errors.Is(err, apperrors.ErrOrderNotFound) {
				t.logger.Warn("Order status update rejected", "order_id", id, "status", status, "error", err)
			}
		}
	}
}

// mapExternalStatus translates backend status vocabulary onto the lifecycle
// states
func mapExternalStatus(s string) (core.OrderStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "new":
		return core.StatusPending, true
	case "processing", "open", "partially_filled", "accepted":
		return core.StatusProcessing, true
	case "filled", "completed", "done":
		return core.StatusCompleted, true
	case "failed", "rejected", "error":
		return core.StatusFailed, true
	case "cancelled", "canceled", "expired":
		return core.StatusCancelled, true
	}
	return "", false
}
