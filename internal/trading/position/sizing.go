package position

import (
	"fmt"
	"sync"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"

	"github.com/shopspring/decimal"
)

// Sizing strategy names
const (
	StrategyPercentOfPortfolio = "percent_of_portfolio"
	StrategyRiskBased          = "risk_based"
	StrategyVolatilityScaled   = "volatility_scaled"
)

// SizingConfig parameterizes the built-in sizing strategies
type SizingConfig struct {
	PercentOfPortfolio float64 // default 0.05
	RiskPerTrade       float64 // default 0.02
	BaseVolatility     float64 // default 0.02
}

func (c SizingConfig) withDefaults() SizingConfig {
	if c.PercentOfPortfolio <= 0 {
		c.PercentOfPortfolio = 0.05
	}
	if c.RiskPerTrade <= 0 {
		c.RiskPerTrade = 0.02
	}
	if c.BaseVolatility <= 0 {
		c.BaseVolatility = 0.02
	}
	return c
}

type strategyFactory func(cfg SizingConfig) core.ISizingStrategy

var (
	factoryMu sync.RWMutex
	factories = make(map[string]strategyFactory)
)

// RegisterStrategy adds a sizing strategy factory to the registry. Built-in
// strategies register themselves in init.
func RegisterStrategy(name string, factory strategyFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = factory
}

// NewSizingStrategy builds a registered strategy by name
func NewSizingStrategy(name string, cfg SizingConfig) (core.ISizingStrategy, error) {
	factoryMu.RLock()
	factory, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sizing strategy: %s", name)
	}
	return factory(cfg.withDefaults()), nil
}

func init() {
	RegisterStrategy(StrategyPercentOfPortfolio, func(cfg SizingConfig) core.ISizingStrategy {
		return &percentOfPortfolio{percent: cfg.PercentOfPortfolio}
	})
	RegisterStrategy(StrategyRiskBased, func(cfg SizingConfig) core.ISizingStrategy {
		return &riskBased{riskPerTrade: cfg.RiskPerTrade}
	})
	RegisterStrategy(StrategyVolatilityScaled, func(cfg SizingConfig) core.ISizingStrategy {
		return &volatilityScaled{basePercent: cfg.PercentOfPortfolio, baseVolatility: cfg.BaseVolatility}
	})
}

// percentOfPortfolio targets a fixed fraction of portfolio value
type percentOfPortfolio struct {
	percent float64
}

func (s *percentOfPortfolio) Name() string { return StrategyPercentOfPortfolio }

func (s *percentOfPortfolio) TargetNotional(_ *core.ExecutionOrder, portfolioValue decimal.Decimal, _ *core.MarketSnapshot) (decimal.Decimal, error) {
	if !portfolioValue.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("portfolio value must be positive, got %s", portfolioValue)
	}
	return portfolioValue.Mul(decimal.NewFromFloat(s.percent)), nil
}

// riskBased targets the per-trade risk budget
type riskBased struct {
	riskPerTrade float64
}

func (s *riskBased) Name() string { return StrategyRiskBased }

func (s *riskBased) TargetNotional(_ *core.ExecutionOrder, portfolioValue decimal.Decimal, _ *core.MarketSnapshot) (decimal.Decimal, error) {
	if !portfolioValue.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("portfolio value must be positive, got %s", portfolioValue)
	}
	return portfolioValue.Mul(decimal.NewFromFloat(s.riskPerTrade)), nil
}

// volatilityScaled shrinks the base allocation as realized volatility rises
// above its baseline, clamped to [1%, 10%] of portfolio value
type volatilityScaled struct {
	basePercent    float64
	baseVolatility float64
}

const (
	minScaledFraction = 0.01
	maxScaledFraction = 0.10
)

func (s *volatilityScaled) Name() string { return StrategyVolatilityScaled }

func (s *volatilityScaled) TargetNotional(order *core.ExecutionOrder, portfolioValue decimal.Decimal, snapshot *core.MarketSnapshot) (decimal.Decimal, error) {
	if !portfolioValue.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("portfolio value must be positive, got %s", portfolioValue)
	}

	fraction := s.basePercent
	if vol, ok := snapshot.VolatilityFor(order.Symbol); ok && vol > 0 {
		fraction = s.basePercent * s.baseVolatility / vol
	}
	if fraction < minScaledFraction {
		fraction = minScaledFraction
	}
	if fraction > maxScaledFraction {
		fraction = maxScaledFraction
	}
	return portfolioValue.Mul(decimal.NewFromFloat(fraction)), nil
}
