// Package optimizer splits sized orders into child orders to reduce market
// impact. Splitting is a best-effort transform: any failure degrades to
// dispatching the order unsplit, never to blocking execution.
package optimizer

import (
	"fmt"
	"math"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	"github.com/0Smallcat0/ai-trading-sub017/pkg/tradingutils"
)

const (
	twapSliceInterval  = 5 * time.Minute
	batchSliceInterval = 30 * time.Second

	// baseImpactBps scales the square-root impact model
	baseImpactBps = 10.0

	// DefaultAvgDailyVolume is the liquidity fallback when neither the
	// snapshot nor the provider knows the symbol
	DefaultAvgDailyVolume = 1_000_000
)

// DefaultVolumeProfile returns the fixed 8-bucket intraday profile used when
// the market data carries none. The weights follow the usual U-shape with the
// close absorbing the largest share.
func DefaultVolumeProfile() []core.VolumeBucket {
	return []core.VolumeBucket{
		{Offset: 0, Weight: 0.15},
		{Offset: 30 * time.Minute, Weight: 0.12},
		{Offset: 60 * time.Minute, Weight: 0.10},
		{Offset: 90 * time.Minute, Weight: 0.08},
		{Offset: 120 * time.Minute, Weight: 0.08},
		{Offset: 150 * time.Minute, Weight: 0.10},
		{Offset: 180 * time.Minute, Weight: 0.12},
		{Offset: 210 * time.Minute, Weight: 0.25},
	}
}

// Optimizer splits orders according to their execution mode
type Optimizer struct {
	cfg            *core.ExecutionConfig
	provider       core.IMarketDataProvider
	logger         core.ILogger
	defaultProfile []core.VolumeBucket
}

// NewOptimizer creates an optimizer bound to the shared execution config.
// The market-data provider is optional.
func NewOptimizer(cfg *core.ExecutionConfig, provider core.IMarketDataProvider, logger core.ILogger) *Optimizer {
	return &Optimizer{
		cfg:            cfg,
		provider:       provider,
		logger:         logger.WithField("component", "execution_optimizer"),
		defaultProfile: DefaultVolumeProfile(),
	}
}

// OptimizeExecution splits an order into child orders. The sum of child
// quantities always equals the parent quantity; on any internal failure the
// order is returned unsplit.
func (o *Optimizer) OptimizeExecution(order *core.ExecutionOrder, snapshot *core.MarketSnapshot) (children []*core.ExecutionOrder) {
	if order == nil {
		return nil
	}
	if !o.cfg.EnableOptimization {
		return []*core.ExecutionOrder{order}
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("Order splitting failed, dispatching unsplit",
				"order_id", order.OrderID,
				"mode", order.Mode,
				"panic", r,
			)
			children = []*core.ExecutionOrder{order}
		}
	}()

	switch order.Mode {
	case core.ModeImmediate:
		children = o.splitImmediate(order)
	case core.ModeTWAP:
		children = o.splitTWAP(order)
	case core.ModeVWAP:
		children = o.splitVWAP(order, snapshot)
	case core.ModeBatch:
		children = o.splitBatch(order)
	default:
		o.logger.Warn("Unknown execution mode, dispatching unsplit", "order_id", order.OrderID, "mode", order.Mode)
		children = []*core.ExecutionOrder{order}
	}

	if len(children) == 0 {
		children = []*core.ExecutionOrder{order}
	}
	if len(children) > 1 {
		o.logger.Info("Order split for execution",
			"order_id", order.OrderID,
			"mode", order.Mode,
			"children", len(children),
		)
	}
	return children
}

// splitImmediate slices only when the quantity exceeds the batch size
func (o *Optimizer) splitImmediate(order *core.ExecutionOrder) []*core.ExecutionOrder {
	if order.Quantity <= o.cfg.BatchSize {
		return []*core.ExecutionOrder{order}
	}
	n := tradingutils.CeilDiv(order.Quantity, o.cfg.BatchSize)
	quantities := tradingutils.SplitEven(order.Quantity, int(n))

	now := time.Now()
	children := make([]*core.ExecutionOrder, 0, len(quantities))
	for i, qty := range quantities {
		children = append(children, o.childOrder(order, i, qty, now, core.ModeImmediate))
	}
	return children
}

// splitTWAP spreads the quantity evenly over 5-minute slices. Children are
// forced to IMMEDIATE so they dispatch directly at their scheduled time.
func (o *Optimizer) splitTWAP(order *core.ExecutionOrder) []*core.ExecutionOrder {
	n := int(o.cfg.TWAPDuration / twapSliceInterval)
	if n < 1 {
		n = 1
	}
	quantities := tradingutils.SplitEven(order.Quantity, n)

	now := time.Now()
	children := make([]*core.ExecutionOrder, 0, n)
	for i, qty := range quantities {
		ts := now.Add(time.Duration(i) * twapSliceInterval)
		children = append(children, o.childOrder(order, i, qty, ts, core.ModeImmediate))
	}
	return children
}

// splitVWAP weights the quantity per volume bucket. The profile comes from
// the market data, else the fixed default; TWAP is the fallback only when no
// profile exists at all. A supplied profile is applied as given even when its
// weights do not sum to 1.0.
func (o *Optimizer) splitVWAP(order *core.ExecutionOrder, snapshot *core.MarketSnapshot) []*core.ExecutionOrder {
	var profile []core.VolumeBucket
	if snapshot != nil && len(snapshot.VolumeProfile) > 0 {
		profile = snapshot.VolumeProfile
	} else if len(o.defaultProfile) > 0 {
		profile = o.defaultProfile
	} else {
		o.logger.Debug("No volume profile available, falling back to TWAP", "order_id", order.OrderID)
		return o.splitTWAP(order)
	}

	weights := make([]float64, len(profile))
	for i, bucket := range profile {
		weights[i] = bucket.Weight
	}
	quantities := tradingutils.SplitByWeights(order.Quantity, weights)

	now := time.Now()
	children := make([]*core.ExecutionOrder, 0, len(profile))
	for i, qty := range quantities {
		if qty <= 0 {
			continue
		}
		children = append(children, o.childOrder(order, i, qty, now.Add(profile[i].Offset), core.ModeVWAP))
	}
	return children
}

// splitBatch slices into batch-size chunks spaced 30 seconds apart
func (o *Optimizer) splitBatch(order *core.ExecutionOrder) []*core.ExecutionOrder {
	n := tradingutils.CeilDiv(order.Quantity, o.cfg.BatchSize)
	if n < 1 {
		n = 1
	}
	quantities := tradingutils.SplitEven(order.Quantity, int(n))

	now := time.Now()
	children := make([]*core.ExecutionOrder, 0, len(quantities))
	for i, qty := range quantities {
		ts := now.Add(time.Duration(i) * batchSliceInterval)
		children = append(children, o.childOrder(order, i, qty, ts, core.ModeBatch))
	}
	return children
}

// childOrder builds one slice of a split, carrying the parent linkage in the
// risk params
func (o *Optimizer) childOrder(parent *core.ExecutionOrder, index int, quantity int64, createdAt time.Time, mode core.ExecutionMode) *core.ExecutionOrder {
	riskParams := make(map[string]string, len(parent.RiskParams)+2)
	for k, v := range parent.RiskParams {
		riskParams[k] = v
	}
	riskParams[core.RiskParamParentOrderID] = parent.OrderID
	riskParams[core.RiskParamIsSubOrder] = "true"

	return &core.ExecutionOrder{
		OrderID:      fmt.Sprintf("%s-s%d", parent.OrderID, index+1),
		Symbol:       parent.Symbol,
		Action:       parent.Action,
		Quantity:     quantity,
		Type:         parent.Type,
		Price:        parent.Price,
		StopPrice:    parent.StopPrice,
		Mode:         mode,
		CreatedAt:    createdAt,
		SignalID:     parent.SignalID,
		StrategyName: parent.StrategyName,
		RiskParams:   riskParams,
	}
}

// EstimateMarketImpact estimates impact in basis points with a square-root
// model. Liquidity resolves from the snapshot, then the provider, then
// DefaultAvgDailyVolume.
func (o *Optimizer) EstimateMarketImpact(symbol string, quantity int64, snapshot *core.MarketSnapshot) float64 {
	if quantity <= 0 {
		return 0
	}

	var adv int64
	if snapshot != nil && snapshot.AvgDailyVolume > 0 {
		adv = snapshot.AvgDailyVolume
	} else if o.provider != nil {
		if v, ok := o.provider.AvgDailyVolume(symbol); ok && v > 0 {
			adv = v
		}
	}
	if adv <= 0 {
		adv = DefaultAvgDailyVolume
	}

	return math.Sqrt(float64(quantity)/float64(adv)) * baseImpactBps
}
