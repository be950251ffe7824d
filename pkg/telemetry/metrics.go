package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSignalsTotal         = "execution_signals_total"
	MetricSignalsProcessed     = "execution_signals_processed_total"
	MetricOrdersExecuted       = "execution_orders_executed_total"
	MetricOrdersFailed         = "execution_orders_failed_total"
	MetricDispatchTotal        = "execution_dispatch_total"
	MetricDispatchErrors       = "execution_dispatch_errors_total"
	MetricSignalLatency        = "execution_signal_duration_ms"
	MetricSlippageBps          = "execution_slippage_bps"
	MetricActiveOrders         = "execution_active_orders"
	MetricPositionNotional     = "execution_position_notional"
	MetricPortfolioValue       = "execution_portfolio_value"
	MetricPortfolioUtilization = "execution_portfolio_utilization"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	SignalsTotal         metric.Int64Counter
	SignalsProcessed     metric.Int64Counter
	OrdersExecuted       metric.Int64Counter
	OrdersFailed         metric.Int64Counter
	DispatchTotal        metric.Int64Counter
	DispatchErrors       metric.Int64Counter
	SignalLatency        metric.Float64Histogram
	SlippageBps          metric.Float64Histogram
	ActiveOrders         metric.Int64ObservableGauge
	PositionNotional     metric.Float64ObservableGauge
	PortfolioValue       metric.Float64ObservableGauge
	PortfolioUtilization metric.Float64ObservableGauge

	// State for observable gauges
	mu                   sync.RWMutex
	activeOrdersMap      map[string]int64
	positionNotionalMap  map[string]float64
	portfolioValue       float64
	portfolioUtilization float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Instruments stay
// nil until InitMetrics runs against a meter.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOrdersMap:     make(map[string]int64),
			positionNotionalMap: make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics creates every instrument on the given meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.SignalsTotal, err = meter.Int64Counter(MetricSignalsTotal, metric.WithDescription("Total signals received"))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricSignalsTotal, err)
	}

	m.SignalsProcessed, err = meter.Int64Counter(MetricSignalsProcessed, metric.WithDescription("Signals that produced an execution order"))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricSignalsProcessed, err)
	}

	m.OrdersExecuted, err = meter.Int64Counter(MetricOrdersExecuted, metric.WithDescription("Child orders dispatched successfully"))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricOrdersExecuted, err)
	}

	m.OrdersFailed, err = meter.Int64Counter(MetricOrdersFailed, metric.WithDescription("Child orders whose dispatch failed"))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricOrdersFailed, err)
	}

	m.DispatchTotal, err = meter.Int64Counter(MetricDispatchTotal, metric.WithDescription("Total dispatch attempts"))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricDispatchTotal, err)
	}

	m.DispatchErrors, err = meter.Int64Counter(MetricDispatchErrors, metric.WithDescription("Dispatch attempts that returned an error"))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricDispatchErrors, err)
	}

	m.SignalLatency, err = meter.Float64Histogram(MetricSignalLatency, metric.WithDescription("End-to-end signal execution latency"), metric.WithUnit("ms"))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricSignalLatency, err)
	}

	m.SlippageBps, err = meter.Float64Histogram(MetricSlippageBps, metric.WithDescription("Per-fill slippage in basis points"))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricSlippageBps, err)
	}

	// Observables read the mutex-guarded state set by the components
	m.ActiveOrders, err = meter.Int64ObservableGauge(MetricActiveOrders, metric.WithDescription("Orders currently tracked in a non-terminal state"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricActiveOrders, err)
	}

	m.PositionNotional, err = meter.Float64ObservableGauge(MetricPositionNotional, metric.WithDescription("Current per-symbol position notional"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionNotionalMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricPositionNotional, err)
	}

	m.PortfolioValue, err = meter.Float64ObservableGauge(MetricPortfolioValue, metric.WithDescription("Portfolio value used for sizing"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.portfolioValue)
			return nil
		}))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricPortfolioValue, err)
	}

	m.PortfolioUtilization, err = meter.Float64ObservableGauge(MetricPortfolioUtilization, metric.WithDescription("Sum of absolute position notionals over portfolio value"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.portfolioUtilization)
			return nil
		}))
	if err != nil {
		return fmt.Errorf("%s: %w", MetricPortfolioUtilization, err)
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetActiveOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[symbol] = count
}

func (m *MetricsHolder) SetPositionNotional(symbol string, notional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionNotionalMap[symbol] = notional
}

func (m *MetricsHolder) SetPortfolio(value, utilization float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolioValue = value
	m.portfolioUtilization = utilization
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.activeOrdersMap))
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetPositionNotional() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.positionNotionalMap))
	for k, v := range m.positionNotionalMap {
		res[k] = v
	}
	return res
}
