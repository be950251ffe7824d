package core

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SignalType classifies the intent of a strategy signal
type SignalType string

const (
	SignalBuy        SignalType = "BUY"
	SignalSell       SignalType = "SELL"
	SignalHold       SignalType = "HOLD"
	SignalCloseLong  SignalType = "CLOSE_LONG"
	SignalCloseShort SignalType = "CLOSE_SHORT"
)

// ParseSignalType parses a signal type case-insensitively
func ParseSignalType(s string) (SignalType, bool) {
	switch SignalType(strings.ToUpper(strings.TrimSpace(s))) {
	case SignalBuy:
		return SignalBuy, true
	case SignalSell:
		return SignalSell, true
	case SignalHold:
		return SignalHold, true
	case SignalCloseLong:
		return SignalCloseLong, true
	case SignalCloseShort:
		return SignalCloseShort, true
	}
	return "", false
}

// Valid reports whether t is a known signal type
func (t SignalType) Valid() bool {
	_, ok := ParseSignalType(string(t))
	return ok
}

// Action maps a signal type to the order side it implies.
// HOLD has no action and returns false.
func (t SignalType) Action() (OrderAction, bool) {
	switch t {
	case SignalBuy, SignalCloseShort:
		return ActionBuy, true
	case SignalSell, SignalCloseLong:
		return ActionSell, true
	}
	return "", false
}

// OrderAction is the side of an execution order
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// OrderType is the broker-facing order type
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// ExecutionMode selects how a sized order is split before dispatch
type ExecutionMode string

const (
	ModeImmediate ExecutionMode = "IMMEDIATE"
	ModeTWAP      ExecutionMode = "TWAP"
	ModeVWAP      ExecutionMode = "VWAP"
	ModeBatch     ExecutionMode = "BATCH"
)

// ParseExecutionMode parses an execution mode case-insensitively
func ParseExecutionMode(s string) (ExecutionMode, bool) {
	switch ExecutionMode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeImmediate:
		return ModeImmediate, true
	case ModeTWAP:
		return ModeTWAP, true
	case ModeVWAP:
		return ModeVWAP, true
	case ModeBatch:
		return ModeBatch, true
	}
	return "", false
}

// OrderStatus is the lifecycle state of a tracked order
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusFailed     OrderStatus = "FAILED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal lifecycle state
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Risk-parameter keys used to link child orders back to their parent
const (
	RiskParamParentOrderID = "parent_order_id"
	RiskParamIsSubOrder    = "is_sub_order"
)

// TradingSignal is a strategy decision handed to the execution pipeline.
// Signals are immutable once created and consumed exactly once.
type TradingSignal struct {
	Symbol       string            `json:"symbol"`
	Type         SignalType        `json:"signal_type"`
	Confidence   float64           `json:"confidence"`
	Timestamp    time.Time         `json:"timestamp"`
	Price        decimal.Decimal   `json:"price,omitempty"`
	Quantity     int64             `json:"quantity,omitempty"`
	StrategyName string            `json:"strategy_name,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate checks the signal invariants shared by the typed and raw input paths
func (s *TradingSignal) Validate() error {
	if s.Symbol == "" {
		return &ValidationError{Field: "symbol", Value: s.Symbol, Message: "symbol is required"}
	}
	if !s.Type.Valid() {
		return &ValidationError{Field: "signal_type", Value: string(s.Type), Message: "unknown signal type"}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return &ValidationError{Field: "confidence", Value: s.Confidence, Message: "confidence must be within [0, 1]"}
	}
	if s.Quantity < 0 {
		return &ValidationError{Field: "quantity", Value: s.Quantity, Message: "quantity must be positive when present"}
	}
	if s.Price.IsNegative() {
		return &ValidationError{Field: "price", Value: s.Price.String(), Message: "price must not be negative"}
	}
	return nil
}

// Fingerprint returns a stable identity hash over (symbol, signal_type, timestamp).
// It is the dedup key and the SignalID back-reference on produced orders.
func (s *TradingSignal) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", s.Symbol, s.Type, s.Timestamp.UnixNano())
	return fmt.Sprintf("%016x", h.Sum64())
}

// SignalFromMap builds a TradingSignal from an untyped map, the shape external
// signal sources deliver. Missing required fields yield a ValidationError.
func SignalFromMap(raw map[string]interface{}) (*TradingSignal, error) {
	if raw == nil {
		return nil, &ValidationError{Field: "signal", Message: "signal payload is nil"}
	}
	sig := &TradingSignal{Timestamp: time.Now()}

	sym, ok := rawString(raw["symbol"])
	if !ok || sym == "" {
		return nil, &ValidationError{Field: "symbol", Value: raw["symbol"], Message: "symbol is required"}
	}
	sig.Symbol = sym

	st, ok := rawString(raw["signal_type"])
	if !ok {
		return nil, &ValidationError{Field: "signal_type", Value: raw["signal_type"], Message: "signal_type is required"}
	}
	parsed, ok := ParseSignalType(st)
	if !ok {
		return nil, &ValidationError{Field: "signal_type", Value: st, Message: "unknown signal type"}
	}
	sig.Type = parsed

	conf, ok := rawFloat(raw["confidence"])
	if !ok {
		return nil, &ValidationError{Field: "confidence", Value: raw["confidence"], Message: "confidence is required"}
	}
	sig.Confidence = conf

	if ts, ok := rawTime(raw["timestamp"]); ok {
		sig.Timestamp = ts
	}
	if p, ok := rawFloat(raw["price"]); ok {
		sig.Price = decimal.NewFromFloat(p)
	}
	if q, ok := rawFloat(raw["quantity"]); ok {
		sig.Quantity = int64(q)
	}
	if name, ok := rawString(raw["strategy_name"]); ok {
		sig.StrategyName = name
	}
	if meta, ok := raw["metadata"].(map[string]interface{}); ok {
		sig.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			if sv, ok := rawString(v); ok {
				sig.Metadata[k] = sv
			} else {
				sig.Metadata[k] = fmt.Sprintf("%v", v)
			}
		}
	} else if meta, ok := raw["metadata"].(map[string]string); ok {
		sig.Metadata = meta
	}

	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return sig, nil
}

func rawString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

func rawFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	}
	return 0, false
}

func rawTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	case int64:
		return time.Unix(t, 0), true
	case float64:
		return time.Unix(int64(t), 0), true
	}
	return time.Time{}, false
}

// ExecutionOrder is a broker-bound order produced by the pipeline.
// Quantity stays mutable until execution starts; child orders of a split carry
// the parent linkage in RiskParams.
type ExecutionOrder struct {
	OrderID      string            `json:"order_id"`
	Symbol       string            `json:"symbol"`
	Action       OrderAction       `json:"action"`
	Quantity     int64             `json:"quantity"`
	Type         OrderType         `json:"order_type"`
	Price        decimal.Decimal   `json:"price,omitempty"`
	StopPrice    decimal.Decimal   `json:"stop_price,omitempty"`
	Mode         ExecutionMode     `json:"execution_mode"`
	CreatedAt    time.Time         `json:"created_at"`
	SignalID     string            `json:"signal_id,omitempty"`
	StrategyName string            `json:"strategy_name,omitempty"`
	RiskParams   map[string]string `json:"risk_params,omitempty"`
}

// IsSubOrder reports whether the order is a child produced by a split
func (o *ExecutionOrder) IsSubOrder() bool {
	return o.RiskParams[RiskParamIsSubOrder] == "true"
}

// ParentOrderID returns the parent linkage for split children, empty otherwise
func (o *ExecutionOrder) ParentOrderID() string {
	return o.RiskParams[RiskParamParentOrderID]
}

// ExecutionResult is the tracked lifecycle record of one order. It is created
// and mutated only by the execution tracker and becomes immutable once the
// status is terminal.
type ExecutionResult struct {
	ExecutionID    string          `json:"execution_id"`
	OrderID        string          `json:"order_id"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity int64           `json:"filled_quantity"`
	FilledPrice    decimal.Decimal `json:"filled_price,omitempty"`
	ExecutionTime  time.Time       `json:"execution_time"`
	Commission     decimal.Decimal `json:"commission"`
	Slippage       decimal.Decimal `json:"slippage"`
	MarketImpact   float64         `json:"market_impact"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// Clone returns a copy safe to hand to callbacks and callers
func (r *ExecutionResult) Clone() *ExecutionResult {
	c := *r
	return &c
}

// SlippageAnalysis is an on-demand slippage report for one execution
type SlippageAnalysis struct {
	Symbol          string          `json:"symbol"`
	ExpectedPrice   decimal.Decimal `json:"expected_price"`
	ActualPrice     decimal.Decimal `json:"actual_price"`
	SlippageBps     float64         `json:"slippage_bps"`
	MarketImpactBps float64         `json:"market_impact_bps"`
	ExecutionTime   time.Duration   `json:"execution_time"`
	VolumeRatio     float64         `json:"volume_ratio"`
}

// VolumeBucket is one (time offset, weight) entry of an intraday volume profile
type VolumeBucket struct {
	Offset time.Duration `json:"offset"`
	Weight float64       `json:"weight"`
}

// MarketSnapshot is the per-call market data handed to the pipeline.
// All lookups are synchronous and in-memory.
type MarketSnapshot struct {
	Prices         map[string]decimal.Decimal `json:"prices,omitempty"`
	AvgDailyVolume int64                      `json:"avg_daily_volume,omitempty"`
	VolumeProfile  []VolumeBucket             `json:"volume_profile,omitempty"`
	Volatility     map[string]float64         `json:"volatility,omitempty"`
}

// Price looks up the snapshot price for a symbol
func (m *MarketSnapshot) Price(symbol string) (decimal.Decimal, bool) {
	if m == nil || m.Prices == nil {
		return decimal.Decimal{}, false
	}
	p, ok := m.Prices[symbol]
	return p, ok
}

// VolatilityFor looks up the snapshot volatility for a symbol
func (m *MarketSnapshot) VolatilityFor(symbol string) (float64, bool) {
	if m == nil || m.Volatility == nil {
		return 0, false
	}
	v, ok := m.Volatility[symbol]
	return v, ok
}

// OrderStatusUpdate is one row from an external order-status source. Status
// carries the source's own vocabulary and is normalized by the tracker.
type OrderStatusUpdate struct {
	Status         string          `json:"status"`
	FilledQuantity int64           `json:"filled_quantity"`
	FilledPrice    decimal.Decimal `json:"filled_price,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// DispatchAck is a backend's acceptance of a submitted order
type DispatchAck struct {
	ExternalID string `json:"external_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ChildExecution is the dispatch outcome of one child order
type ChildExecution struct {
	OrderID    string `json:"order_id"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// SizingDetails itemizes how a position size was computed, or why it was
// rejected. Reasons is populated only when Passed is false.
type SizingDetails struct {
	Passed         bool            `json:"passed"`
	Reasons        []string        `json:"reasons,omitempty"`
	Strategy       string          `json:"strategy"`
	TargetNotional decimal.Decimal `json:"target_notional"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	Notional       decimal.Decimal `json:"notional"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Clamped        bool            `json:"clamped,omitempty"`
}

// ReportData is the detail payload of an ExecutionReport
type ReportData struct {
	OriginalSignal   *TradingSignal    `json:"original_signal,omitempty"`
	ProcessedOrder   *ExecutionOrder   `json:"processed_order,omitempty"`
	PositionDetails  *SizingDetails    `json:"position_details,omitempty"`
	OptimizedOrders  int               `json:"optimized_orders"`
	ExecutionResults []*ChildExecution `json:"execution_results,omitempty"`
	CurrentPrice     decimal.Decimal   `json:"current_price,omitempty"`
}

// ExecutionReport is the structured outcome of one engine invocation.
// Engine entry points always return one, never a raw error.
type ExecutionReport struct {
	ExecutionID string     `json:"execution_id"`
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	Timestamp   time.Time  `json:"timestamp"`
	Data        ReportData `json:"data"`
}

// ExecutionStats aggregates tracker history, optionally filtered to a symbol
type ExecutionStats struct {
	TotalExecutions int64           `json:"total_executions"`
	Completed       int64           `json:"completed"`
	Failed          int64           `json:"failed"`
	SuccessRate     float64         `json:"success_rate"`
	AvgSlippage     decimal.Decimal `json:"avg_slippage"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	AvgCommission   decimal.Decimal `json:"avg_commission"`
}

// EngineStats merges engine counters with tracker and portfolio state
type EngineStats struct {
	TotalSignals         int64           `json:"total_signals"`
	ProcessedSignals     int64           `json:"processed_signals"`
	ExecutedOrders       int64           `json:"executed_orders"`
	FailedOrders         int64           `json:"failed_orders"`
	ActiveOrders         int             `json:"active_orders"`
	PortfolioValue       decimal.Decimal `json:"portfolio_value"`
	PortfolioUtilization float64         `json:"portfolio_utilization"`
	Tracker              *ExecutionStats `json:"tracker,omitempty"`
}
