package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSignalTypeAction(t *testing.T) {
	tests := []struct {
		signal SignalType
		action OrderAction
		ok     bool
	}{
		{SignalBuy, ActionBuy, true},
		{SignalSell, ActionSell, true},
		{SignalCloseLong, ActionSell, true},
		{SignalCloseShort, ActionBuy, true},
		{SignalHold, "", false},
	}
	for _, tt := range tests {
		action, ok := tt.signal.Action()
		if ok != tt.ok || action != tt.action {
			t.Errorf("%s.Action() = (%s, %v), want (%s, %v)", tt.signal, action, ok, tt.action, tt.ok)
		}
	}
}

func TestParseSignalType(t *testing.T) {
	if st, ok := ParseSignalType("buy"); !ok || st != SignalBuy {
		t.Errorf("ParseSignalType(buy) = (%s, %v)", st, ok)
	}
	if st, ok := ParseSignalType(" Close_Long "); !ok || st != SignalCloseLong {
		t.Errorf("ParseSignalType(Close_Long) = (%s, %v)", st, ok)
	}
	if _, ok := ParseSignalType("SHORT"); ok {
		t.Error("ParseSignalType(SHORT) should fail")
	}
}

func TestParseExecutionMode(t *testing.T) {
	if m, ok := ParseExecutionMode("twap"); !ok || m != ModeTWAP {
		t.Errorf("ParseExecutionMode(twap) = (%s, %v)", m, ok)
	}
	if _, ok := ParseExecutionMode("ASAP"); ok {
		t.Error("ParseExecutionMode(ASAP) should fail")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, s := range []OrderStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{StatusPending, StatusProcessing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTradingSignalValidate(t *testing.T) {
	valid := &TradingSignal{Symbol: "2330", Type: SignalBuy, Confidence: 0.8, Timestamp: time.Now()}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid signal rejected: %v", err)
	}

	tests := []struct {
		name string
		sig  TradingSignal
	}{
		{"missing symbol", TradingSignal{Type: SignalBuy, Confidence: 0.8}},
		{"unknown type", TradingSignal{Symbol: "2330", Type: "LONG", Confidence: 0.8}},
		{"confidence above one", TradingSignal{Symbol: "2330", Type: SignalBuy, Confidence: 1.2}},
		{"negative confidence", TradingSignal{Symbol: "2330", Type: SignalBuy, Confidence: -0.1}},
		{"negative quantity", TradingSignal{Symbol: "2330", Type: SignalBuy, Confidence: 0.8, Quantity: -5}},
		{"negative price", TradingSignal{Symbol: "2330", Type: SignalBuy, Confidence: 0.8, Price: decimal.NewFromInt(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sig.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestFingerprintStability(t *testing.T) {
	ts := time.Now()
	a := &TradingSignal{Symbol: "2330", Type: SignalBuy, Confidence: 0.8, Timestamp: ts}
	b := &TradingSignal{Symbol: "2330", Type: SignalBuy, Confidence: 0.3, Timestamp: ts}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint should only depend on symbol, type, and timestamp")
	}

	c := &TradingSignal{Symbol: "2330", Type: SignalSell, Confidence: 0.8, Timestamp: ts}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different signal types should not collide")
	}
	d := &TradingSignal{Symbol: "2330", Type: SignalBuy, Confidence: 0.8, Timestamp: ts.Add(time.Nanosecond)}
	if a.Fingerprint() == d.Fingerprint() {
		t.Error("different timestamps should not collide")
	}
}

func TestSignalFromMap(t *testing.T) {
	raw := map[string]interface{}{
		"symbol":        "2330",
		"signal_type":   "buy",
		"confidence":    0.85,
		"price":         580.0,
		"quantity":      1000,
		"strategy_name": "momentum",
		"metadata":      map[string]interface{}{"execution_mode": "TWAP"},
	}
	sig, err := SignalFromMap(raw)
	if err != nil {
		t.Fatalf("SignalFromMap: %v", err)
	}
	if sig.Symbol != "2330" || sig.Type != SignalBuy || sig.Confidence != 0.85 {
		t.Errorf("unexpected signal: %+v", sig)
	}
	if sig.Quantity != 1000 {
		t.Errorf("quantity = %d, want 1000", sig.Quantity)
	}
	if !sig.Price.Equal(decimal.NewFromInt(580)) {
		t.Errorf("price = %s, want 580", sig.Price)
	}
	if sig.Metadata["execution_mode"] != "TWAP" {
		t.Errorf("metadata not coerced: %v", sig.Metadata)
	}
}

func TestSignalFromMapMissingFields(t *testing.T) {
	cases := []map[string]interface{}{
		nil,
		{"signal_type": "BUY", "confidence": 0.8},
		{"symbol": "2330", "confidence": 0.8},
		{"symbol": "2330", "signal_type": "BUY"},
		{"symbol": "2330", "signal_type": "LONG", "confidence": 0.8},
	}
	for i, raw := range cases {
		if _, err := SignalFromMap(raw); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestExecutionOrderLinkage(t *testing.T) {
	parent := &ExecutionOrder{OrderID: "ord-1"}
	if parent.IsSubOrder() || parent.ParentOrderID() != "" {
		t.Error("plain order should not look like a child")
	}

	child := &ExecutionOrder{
		OrderID: "ord-1-s1",
		RiskParams: map[string]string{
			RiskParamParentOrderID: "ord-1",
			RiskParamIsSubOrder:    "true",
		},
	}
	if !child.IsSubOrder() {
		t.Error("child should report as sub-order")
	}
	if child.ParentOrderID() != "ord-1" {
		t.Errorf("parent id = %q, want ord-1", child.ParentOrderID())
	}
}

func TestExecutionConfigValidate(t *testing.T) {
	cfg := DefaultExecutionConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := DefaultExecutionConfig()
	bad.RiskLimit = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("risk limit above 1 should fail validation")
	}

	bad = DefaultExecutionConfig()
	bad.BatchSize = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero batch size should fail validation")
	}
}

func TestExecutionConfigClone(t *testing.T) {
	cfg := DefaultExecutionConfig()
	clone := cfg.Clone()
	clone.RiskLimit = 0.99
	if cfg.RiskLimit == clone.RiskLimit {
		t.Error("clone should not share state with the original")
	}
}

func TestMarketSnapshotLookups(t *testing.T) {
	var nilSnap *MarketSnapshot
	if _, ok := nilSnap.Price("2330"); ok {
		t.Error("nil snapshot should report no price")
	}

	snap := &MarketSnapshot{
		Prices:     map[string]decimal.Decimal{"2330": decimal.NewFromInt(580)},
		Volatility: map[string]float64{"2330": 0.02},
	}
	if p, ok := snap.Price("2330"); !ok || !p.Equal(decimal.NewFromInt(580)) {
		t.Errorf("Price(2330) = (%s, %v)", p, ok)
	}
	if _, ok := snap.Price("0000"); ok {
		t.Error("unknown symbol should report no price")
	}
	if v, ok := snap.VolatilityFor("2330"); !ok || v != 0.02 {
		t.Errorf("VolatilityFor(2330) = (%f, %v)", v, ok)
	}
}

func TestExecutionResultClone(t *testing.T) {
	res := &ExecutionResult{ExecutionID: "exec-1", OrderID: "ord-1", Status: StatusPending}
	clone := res.Clone()
	clone.Status = StatusCompleted
	if res.Status != StatusPending {
		t.Error("clone should not share state with the original")
	}
}
