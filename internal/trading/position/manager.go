// Package position sizes draft orders against the portfolio ledger and risk
// limits. The per-symbol notional ledger is owned here; every access goes
// through the manager's mutex so the foreground path and the tracker's
// background loop never race.
package position

import (
	"fmt"
	"sync"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	"github.com/0Smallcat0/ai-trading-sub017/pkg/telemetry"
	"github.com/0Smallcat0/ai-trading-sub017/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// DefaultEffectivePrice is the sizing fallback when neither the market data
// nor the order carries a price
var DefaultEffectivePrice = decimal.NewFromInt(100)

// DefaultPortfolioValue seeds the manager when no value is configured
var DefaultPortfolioValue = decimal.NewFromInt(1_000_000)

// DefaultConcentrationLimit caps per-symbol exposure as a portfolio fraction
const DefaultConcentrationLimit = 0.20

// ManagerConfig tunes a position manager
type ManagerConfig struct {
	PortfolioValue     decimal.Decimal
	ConcentrationLimit float64
	Strategy           string
	Sizing             SizingConfig
}

// Manager owns the per-symbol notional ledger and the portfolio value shared
// by all sizing calls
type Manager struct {
	execCfg  *core.ExecutionConfig
	strategy core.ISizingStrategy
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder

	mu                 sync.Mutex
	portfolioValue     decimal.Decimal
	ledger             map[string]decimal.Decimal
	concentrationLimit float64
}

// NewManager creates a position manager bound to the shared execution config
func NewManager(cfg ManagerConfig, execCfg *core.ExecutionConfig, logger core.ILogger) (*Manager, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyPercentOfPortfolio
	}
	strategy, err := NewSizingStrategy(cfg.Strategy, cfg.Sizing)
	if err != nil {
		return nil, err
	}
	if !cfg.PortfolioValue.IsPositive() {
		cfg.PortfolioValue = DefaultPortfolioValue
	}
	if cfg.ConcentrationLimit <= 0 || cfg.ConcentrationLimit > 1 {
		cfg.ConcentrationLimit = DefaultConcentrationLimit
	}

	m := &Manager{
		execCfg:            execCfg,
		strategy:           strategy,
		logger:             logger.WithField("component", "position_manager"),
		metrics:            telemetry.GetGlobalMetrics(),
		portfolioValue:     cfg.PortfolioValue,
		ledger:             make(map[string]decimal.Decimal),
		concentrationLimit: cfg.ConcentrationLimit,
	}
	m.metrics.SetPortfolio(m.portfolioValue.InexactFloat64(), 0)
	return m, nil
}

// CalculatePositionSize sizes an order and runs the risk checks. A quantity of
// zero with Passed=false means a risk rejection; the reasons are itemized and
// never retried automatically.
func (m *Manager) CalculatePositionSize(order *core.ExecutionOrder, currentPrice decimal.Decimal, snapshot *core.MarketSnapshot) (int64, *core.SizingDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()

	details := &core.SizingDetails{
		Strategy:       m.strategy.Name(),
		PortfolioValue: m.portfolioValue,
	}

	effective := m.effectivePrice(order, currentPrice)
	details.EffectivePrice = effective

	quantity := order.Quantity
	if quantity > 0 {
		// Pre-sized by the signal; risk checks still apply
		details.Strategy = "preset"
	} else {
		target, err := m.strategy.TargetNotional(order, m.portfolioValue, snapshot)
		if err != nil {
			details.Passed = false
			details.Reasons = []string{fmt.Sprintf("sizing strategy %s failed: %v", m.strategy.Name(), err)}
			m.logger.Warn("Sizing strategy failed", "symbol", order.Symbol, "error", err)
			return 0, details
		}
		details.TargetNotional = target
		quantity = target.Div(effective).IntPart()
	}

	if quantity <= 0 {
		details.Passed = false
		details.Reasons = []string{fmt.Sprintf("computed quantity is not positive at effective price %s", effective)}
		return 0, details
	}

	notional := tradingutils.Notional(quantity, effective)
	details.Notional = notional

	if reasons := m.riskCheckReasons(order, notional); len(reasons) > 0 {
		details.Passed = false
		details.Reasons = reasons
		m.logger.Warn("Risk checks rejected order",
			"symbol", order.Symbol,
			"notional", notional,
			"reasons", reasons,
		)
		return 0, details
	}

	clamped := m.clampQuantity(quantity, effective)
	if clamped < quantity {
		details.Clamped = true
		quantity = clamped
		details.Notional = tradingutils.Notional(quantity, effective)
	}

	details.Passed = true
	return quantity, details
}

// riskCheckReasons runs every limit check and collects the violations.
// Caller holds m.mu.
func (m *Manager) riskCheckReasons(order *core.ExecutionOrder, notional decimal.Decimal) []string {
	var reasons []string

	if notional.GreaterThan(m.execCfg.MaxPositionSize) {
		reasons = append(reasons, fmt.Sprintf(
			"order notional %s exceeds max position size %s",
			notional, m.execCfg.MaxPositionSize,
		))
	}

	portfolioFraction := notional.Div(m.portfolioValue).InexactFloat64()
	if portfolioFraction > m.execCfg.RiskLimit {
		reasons = append(reasons, fmt.Sprintf(
			"order notional %s is %.4f of portfolio, exceeds risk limit %.4f",
			notional, portfolioFraction, m.execCfg.RiskLimit,
		))
	}

	projected := m.ledger[order.Symbol]
	if order.Action == core.ActionSell {
		projected = projected.Sub(notional)
	} else {
		projected = projected.Add(notional)
	}
	concentration := projected.Abs().Div(m.portfolioValue).InexactFloat64()
	if concentration > m.concentrationLimit {
		reasons = append(reasons, fmt.Sprintf(
			"projected %s exposure is %.4f of portfolio, exceeds concentration limit %.4f",
			order.Symbol, concentration, m.concentrationLimit,
		))
	}

	return reasons
}

// clampQuantity lowers quantity until its notional fits both the max position
// size and the risk limit. Caller holds m.mu.
func (m *Manager) clampQuantity(quantity int64, price decimal.Decimal) int64 {
	clamped := tradingutils.ClampQuantityToNotional(quantity, price, m.execCfg.MaxPositionSize)
	riskCap := m.portfolioValue.Mul(decimal.NewFromFloat(m.execCfg.RiskLimit))
	return tradingutils.ClampQuantityToNotional(clamped, price, riskCap)
}

// effectivePrice resolves the sizing price: market data, then the order's own
// price, then the documented fallback constant. Caller holds m.mu.
func (m *Manager) effectivePrice(order *core.ExecutionOrder, currentPrice decimal.Decimal) decimal.Decimal {
	if currentPrice.IsPositive() {
		return currentPrice
	}
	if order.Price.IsPositive() {
		return order.Price
	}
	return DefaultEffectivePrice
}

// UpdatePosition applies a fill to the ledger: buys add notional, sells
// subtract it
func (m *Manager) UpdatePosition(symbol string, quantity int64, price decimal.Decimal, action core.OrderAction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := tradingutils.Notional(quantity, price)
	if action == core.ActionSell {
		delta = delta.Neg()
	}
	m.ledger[symbol] = m.ledger[symbol].Add(delta)

	m.metrics.SetPositionNotional(symbol, m.ledger[symbol].InexactFloat64())
	m.metrics.SetPortfolio(m.portfolioValue.InexactFloat64(), m.utilizationLocked())

	m.logger.Info("Position updated",
		"symbol", symbol,
		"action", action,
		"quantity", quantity,
		"price", price,
		"position_notional", m.ledger[symbol],
	)
}

// GetCurrentPosition returns the ledger notional for a symbol
func (m *Manager) GetCurrentPosition(symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger[symbol]
}

// GetPortfolioUtilization returns the sum of absolute position notionals over
// the portfolio value
func (m *Manager) GetPortfolioUtilization() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.utilizationLocked()
}

func (m *Manager) utilizationLocked() float64 {
	if !m.portfolioValue.IsPositive() {
		return 0
	}
	total := decimal.Decimal{}
	for _, notional := range m.ledger {
		total = total.Add(notional.Abs())
	}
	return total.Div(m.portfolioValue).InexactFloat64()
}

// PortfolioValue returns the value shared by all sizing calls
func (m *Manager) PortfolioValue() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portfolioValue
}

// UpdatePortfolioValue mutates the shared portfolio value used by all
// subsequent sizing calls
func (m *Manager) UpdatePortfolioValue(value decimal.Decimal) error {
	if !value.IsPositive() {
		return &core.ValidationError{Field: "portfolio_value", Value: value.String(), Message: "must be positive"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolioValue = value
	m.metrics.SetPortfolio(value.InexactFloat64(), m.utilizationLocked())
	m.logger.Info("Portfolio value updated", "portfolio_value", value)
	return nil
}
