// Package signal normalizes, validates, and deduplicates trading signals and
// maps them to draft execution orders.
package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	apperrors "github.com/0Smallcat0/ai-trading-sub017/pkg/errors"

	"github.com/google/uuid"
)

// DefaultMinConfidence is the confidence floor applied when none is configured
const DefaultMinConfidence = 0.5

// ProcessorConfig tunes signal acceptance and order mapping
type ProcessorConfig struct {
	MinConfidence     float64
	OrderTypeDefaults map[core.SignalType]core.OrderType
	Filters           []core.FilterFunc
}

// Processor turns accepted signals into draft execution orders. The dedup set
// is owned by the instance; deployments running several processors do not
// share rejection state.
type Processor struct {
	cfg    ProcessorConfig
	logger core.ILogger

	mu      sync.Mutex
	seen    map[string]struct{}
	filters []core.FilterFunc
}

// NewProcessor creates a signal processor
func NewProcessor(cfg ProcessorConfig, logger core.ILogger) *Processor {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.OrderTypeDefaults == nil {
		cfg.OrderTypeDefaults = map[core.SignalType]core.OrderType{
			core.SignalBuy:        core.OrderTypeMarket,
			core.SignalSell:       core.OrderTypeMarket,
			core.SignalCloseLong:  core.OrderTypeMarket,
			core.SignalCloseShort: core.OrderTypeMarket,
		}
	}

	return &Processor{
		cfg:     cfg,
		logger:  logger.WithField("component", "signal_processor"),
		seen:    make(map[string]struct{}),
		filters: cfg.Filters,
	}
}

// AddFilter appends a predicate to the ordered filter chain
func (p *Processor) AddFilter(f core.FilterFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters = append(p.filters, f)
}

// ProcessSignal validates, deduplicates, and filters one signal and maps it to
// a draft order. A nil order always pairs with a non-nil error naming the
// rejection.
func (p *Processor) ProcessSignal(sig *core.TradingSignal) (*core.ExecutionOrder, error) {
	if sig == nil {
		return nil, &core.ValidationError{Field: "signal", Message: "signal is nil"}
	}
	if err := sig.Validate(); err != nil {
		p.logger.Warn("Rejected malformed signal", "error", err)
		return nil, err
	}

	if sig.Type == core.SignalHold {
		p.logger.Debug("Ignoring hold signal", "symbol", sig.Symbol)
		return nil, apperrors.ErrHoldSignal
	}

	if sig.Confidence < p.cfg.MinConfidence {
		p.logger.Debug("Rejected low-confidence signal",
			"symbol", sig.Symbol,
			"confidence", sig.Confidence,
			"min_confidence", p.cfg.MinConfidence,
		)
		return nil, fmt.Errorf("%w: %.2f below %.2f", apperrors.ErrLowConfidence, sig.Confidence, p.cfg.MinConfidence)
	}

	fingerprint := sig.Fingerprint()
	p.mu.Lock()
	if _, dup := p.seen[fingerprint]; dup {
		p.mu.Unlock()
		p.logger.Debug("Rejected duplicate signal", "symbol", sig.Symbol, "fingerprint", fingerprint)
		return nil, fmt.Errorf("%w: %s %s", apperrors.ErrDuplicateSignal, sig.Symbol, sig.Type)
	}
	p.seen[fingerprint] = struct{}{}
	filters := p.filters
	p.mu.Unlock()

	for _, filter := range filters {
		if ok, reason := filter(sig); !ok {
			p.logger.Debug("Signal rejected by filter", "symbol", sig.Symbol, "reason", reason)
			return nil, fmt.Errorf("%w: %s", apperrors.ErrSignalFiltered, reason)
		}
	}

	action, ok := sig.Type.Action()
	if !ok {
		// Only HOLD lacks an action and it was rejected above
		return nil, &core.ValidationError{Field: "signal_type", Value: string(sig.Type), Message: "no order action"}
	}

	orderType, ok := p.cfg.OrderTypeDefaults[sig.Type]
	if !ok {
		orderType = core.OrderTypeMarket
	}

	order := &core.ExecutionOrder{
		OrderID:      newOrderID(),
		Symbol:       sig.Symbol,
		Action:       action,
		Quantity:     sig.Quantity,
		Type:         orderType,
		Price:        sig.Price,
		Mode:         p.resolveExecutionMode(sig),
		CreatedAt:    time.Now(),
		SignalID:     fingerprint,
		StrategyName: sig.StrategyName,
	}

	p.logger.Info("Signal mapped to execution order",
		"symbol", order.Symbol,
		"action", order.Action,
		"quantity", order.Quantity,
		"mode", order.Mode,
		"order_id", order.OrderID,
	)
	return order, nil
}

// ProcessRaw accepts the untyped map shape external signal sources deliver
func (p *Processor) ProcessRaw(raw map[string]interface{}) (*core.ExecutionOrder, error) {
	sig, err := core.SignalFromMap(raw)
	if err != nil {
		p.logger.Warn("Rejected malformed signal payload", "error", err)
		return nil, err
	}
	return p.ProcessSignal(sig)
}

// ProcessBatch processes signals in order and returns only the produced
// orders, preserving input order
func (p *Processor) ProcessBatch(signals []*core.TradingSignal) []*core.ExecutionOrder {
	orders := make([]*core.ExecutionOrder, 0, len(signals))
	for _, sig := range signals {
		order, err := p.ProcessSignal(sig)
		if err != nil {
			continue
		}
		orders = append(orders, order)
	}
	p.logger.Debug("Processed signal batch", "signals", len(signals), "orders", len(orders))
	return orders
}

// ResetDedup clears the instance's seen-signal set
func (p *Processor) ResetDedup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = make(map[string]struct{})
}

// resolveExecutionMode reads metadata["execution_mode"], defaulting to
// IMMEDIATE on missing or unrecognized values
func (p *Processor) resolveExecutionMode(sig *core.TradingSignal) core.ExecutionMode {
	raw, ok := sig.Metadata["execution_mode"]
	if !ok || raw == "" {
		return core.ModeImmediate
	}
	mode, ok := core.ParseExecutionMode(raw)
	if !ok {
		p.logger.Debug("Unrecognized execution mode, using IMMEDIATE", "symbol", sig.Symbol, "execution_mode", raw)
		return core.ModeImmediate
	}
	return mode
}

func newOrderID() string {
	return "ord-" + uuid.NewString()
}
