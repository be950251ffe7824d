package tracker

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	"github.com/0Smallcat0/ai-trading-sub017/internal/mock"
	apperrors "github.com/0Smallcat0/ai-trading-sub017/pkg/errors"

	"github.com/shopspring/decimal"
)

func newTestTracker(t *testing.T, cfg Config, source core.IOrderStatusSource) *Tracker {
	t.Helper()
	tr := NewTracker(cfg, source, mock.Logger{})
	t.Cleanup(tr.Close)
	return tr
}

func trackedBuy(id string) *core.ExecutionOrder {
	return &core.ExecutionOrder{
		OrderID:  id,
		Symbol:   "2330",
		Action:   core.ActionBuy,
		Quantity: 1000,
		Price:    decimal.NewFromInt(50),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTrackOrder(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)

	result, err := tr.TrackOrder(trackedBuy("ord-1"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != core.StatusPending {
		t.Errorf("status = %s, want PENDING", result.Status)
	}
	if result.OrderID != "ord-1" || result.ExecutionID == "" {
		t.Errorf("unexpected result: %+v", result)
	}
	if tr.ActiveOrderCount() != 1 {
		t.Errorf("active count = %d, want 1", tr.ActiveOrderCount())
	}

	// The returned result is a snapshot, not the live record.
	result.Status = core.StatusFailed
	current, err := tr.GetExecutionStatus("ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if current.Status != core.StatusPending {
		t.Error("caller mutation leaked into the tracker")
	}
}

func TestTrackOrder_Validation(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)

	if _, err := tr.TrackOrder(nil); err == nil {
		t.Error("nil order should be rejected")
	}
	if _, err := tr.TrackOrder(&core.ExecutionOrder{Symbol: "2330"}); err == nil {
		t.Error("empty order id should be rejected")
	}
}

func TestTrackOrder_Duplicate(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)

	if _, err := tr.TrackOrder(trackedBuy("ord-1")); err != nil {
		t.Fatal(err)
	}
	_, err := tr.TrackOrder(trackedBuy("ord-1"))
	if !errors.Is(err, apperrors.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestUpdateOrderStatus_Lifecycle(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)
	if _, err := tr.TrackOrder(trackedBuy("ord-1")); err != nil {
		t.Fatal(err)
	}

	if err := tr.UpdateOrderStatus("ord-1", core.StatusProcessing, 0, decimal.Decimal{}, ""); err != nil {
		t.Fatal(err)
	}
	fill := decimal.RequireFromString("50.5")
	if err := tr.UpdateOrderStatus("ord-1", core.StatusCompleted, 1000, fill, ""); err != nil {
		t.Fatal(err)
	}

	result, err := tr.GetExecutionStatus("ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != core.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", result.Status)
	}
	if result.FilledQuantity != 1000 || !result.FilledPrice.Equal(fill) {
		t.Errorf("fill = %d @ %s", result.FilledQuantity, result.FilledPrice)
	}
	// Buy filled half a point above the expected 50.
	if !result.Slippage.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("slippage = %s, want 0.5", result.Slippage)
	}
	// 1000 * 50.5 * 0.001425.
	if !result.Commission.Equal(decimal.RequireFromString("71.9625")) {
		t.Errorf("commission = %s, want 71.9625", result.Commission)
	}

	if tr.ActiveOrderCount() != 0 {
		t.Errorf("active count = %d, want 0", tr.ActiveOrderCount())
	}
}

func TestUpdateOrderStatus_SellSlippage(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)

	sell := trackedBuy("ord-1")
	sell.Action = core.ActionSell
	if _, err := tr.TrackOrder(sell); err != nil {
		t.Fatal(err)
	}
	// A sell filled below the expected price is adverse: positive slippage.
	if err := tr.UpdateOrderStatus("ord-1", core.StatusCompleted, 1000, decimal.RequireFromString("49.5"), ""); err != nil {
		t.Fatal(err)
	}
	result, _ := tr.GetExecutionStatus("ord-1")
	if !result.Slippage.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("adverse sell slippage = %s, want 0.5", result.Slippage)
	}

	sell2 := trackedBuy("ord-2")
	sell2.Action = core.ActionSell
	if _, err := tr.TrackOrder(sell2); err != nil {
		t.Fatal(err)
	}
	// Filled above the expected price: favorable, negative slippage.
	if err := tr.UpdateOrderStatus("ord-2", core.StatusCompleted, 1000, decimal.RequireFromString("50.5"), ""); err != nil {
		t.Fatal(err)
	}
	result, _ = tr.GetExecutionStatus("ord-2")
	if !result.Slippage.Equal(decimal.RequireFromString("-0.5")) {
		t.Errorf("favorable sell slippage = %s, want -0.5", result.Slippage)
	}
}

func TestUpdateOrderStatus_Transitions(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)
	if _, err := tr.TrackOrder(trackedBuy("ord-1")); err != nil {
		t.Fatal(err)
	}

	if err := tr.UpdateOrderStatus("ord-1", core.StatusProcessing, 0, decimal.Decimal{}, ""); err != nil {
		t.Fatal(err)
	}
	// Re-asserting the current state is a legal no-op for repeated polls.
	if err := tr.UpdateOrderStatus("ord-1", core.StatusProcessing, 0, decimal.Decimal{}, ""); err != nil {
		t.Fatalf("re-assert rejected: %v", err)
	}
	// Moving backwards is not.
	err := tr.UpdateOrderStatus("ord-1", core.StatusPending, 0, decimal.Decimal{}, "")
	if !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := tr.UpdateOrderStatus("ord-1", core.StatusCompleted, 1000, decimal.NewFromInt(50), ""); err != nil {
		t.Fatal(err)
	}
	// Terminal orders leave the active set; late updates surface as not found.
	err = tr.UpdateOrderStatus("ord-1", core.StatusCancelled, 0, decimal.Decimal{}, "")
	if !errors.Is(err, apperrors.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound after terminal, got %v", err)
	}
}

func TestUpdateOrderStatus_Validation(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)

	if err := tr.UpdateOrderStatus("ord-1", core.OrderStatus("LIMBO"), 0, decimal.Decimal{}, ""); err == nil {
		t.Error("unknown status should be rejected")
	}
	err := tr.UpdateOrderStatus("ghost", core.StatusProcessing, 0, decimal.Decimal{}, "")
	if !errors.Is(err, apperrors.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestUpdateOrderStatus_ErrorMessage(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)
	if _, err := tr.TrackOrder(trackedBuy("ord-1")); err != nil {
		t.Fatal(err)
	}

	if err := tr.UpdateOrderStatus("ord-1", core.StatusFailed, 0, decimal.Decimal{}, "insufficient margin"); err != nil {
		t.Fatal(err)
	}
	result, err := tr.GetExecutionStatus("ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.ErrorMessage != "insufficient margin" {
		t.Errorf("error message = %q", result.ErrorMessage)
	}
}

func TestGetExecutionStatus_NotFound(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)
	_, err := tr.GetExecutionStatus("ghost")
	if !errors.Is(err, apperrors.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGetExecutionStatistics(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)

	// Two completed fills on 2330: slippage +0.5 and -0.25.
	for i, fill := range []string{"50.5", "49.75"} {
		id := fmt.Sprintf("ord-%d", i+1)
		if _, err := tr.TrackOrder(trackedBuy(id)); err != nil {
			t.Fatal(err)
		}
		if err := tr.UpdateOrderStatus(id, core.StatusCompleted, 1000, decimal.RequireFromString(fill), ""); err != nil {
			t.Fatal(err)
		}
	}
	// One failure on 2330.
	if _, err := tr.TrackOrder(trackedBuy("ord-3")); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateOrderStatus("ord-3", core.StatusFailed, 0, decimal.Decimal{}, "rejected"); err != nil {
		t.Fatal(err)
	}
	// One still active on another symbol.
	other := trackedBuy("ord-4")
	other.Symbol = "2454"
	if _, err := tr.TrackOrder(other); err != nil {
		t.Fatal(err)
	}

	stats := tr.GetExecutionStatistics("")
	if stats.TotalExecutions != 4 || stats.Completed != 2 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("success rate = %f, want 0.5", stats.SuccessRate)
	}
	if !stats.AvgSlippage.Equal(decimal.RequireFromString("0.125")) {
		t.Errorf("avg slippage = %s, want 0.125", stats.AvgSlippage)
	}
	// Commissions: 71.9625 + 70.89375.
	if !stats.TotalCommission.Equal(decimal.RequireFromString("142.85625")) {
		t.Errorf("total commission = %s", stats.TotalCommission)
	}
	if !stats.AvgCommission.Equal(decimal.RequireFromString("71.428125")) {
		t.Errorf("avg commission = %s", stats.AvgCommission)
	}

	bySymbol := tr.GetExecutionStatistics("2330")
	if bySymbol.TotalExecutions != 3 || bySymbol.Completed != 2 {
		t.Errorf("2330 stats = %+v", bySymbol)
	}
	empty := tr.GetExecutionStatistics("0000")
	if empty.TotalExecutions != 0 || empty.SuccessRate != 0 {
		t.Errorf("unknown symbol stats = %+v", empty)
	}
}

func TestAnalyzeSlippage(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)

	report := tr.AnalyzeSlippage("2330",
		decimal.NewFromInt(100), decimal.RequireFromString("100.5"),
		3*time.Second, 0.02)
	if report.SlippageBps != 50 {
		t.Errorf("slippage bps = %f, want 50", report.SlippageBps)
	}
	if report.MarketImpactBps != 0.2 {
		t.Errorf("impact bps = %f, want 0.2", report.MarketImpactBps)
	}
	if report.Symbol != "2330" || report.ExecutionTime != 3*time.Second || report.VolumeRatio != 0.02 {
		t.Errorf("report = %+v", report)
	}

	zero := tr.AnalyzeSlippage("2330", decimal.Decimal{}, decimal.NewFromInt(100), 0, 0)
	if zero.SlippageBps != 0 {
		t.Errorf("bps without expected price = %f, want 0", zero.SlippageBps)
	}
}

func TestCallbacks(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)

	var mu sync.Mutex
	var seen []core.OrderStatus
	tr.RegisterCallback(func(result *core.ExecutionResult) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, result.Status)
	})
	tr.RegisterCallback(nil) // ignored

	if _, err := tr.TrackOrder(trackedBuy("ord-1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateOrderStatus("ord-1", core.StatusProcessing, 0, decimal.Decimal{}, ""); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateOrderStatus("ord-1", core.StatusCompleted, 1000, decimal.NewFromInt(50), ""); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if seen[0] != core.StatusProcessing || seen[1] != core.StatusCompleted {
		t.Errorf("callback order = %v", seen)
	}
}

func TestCallbacks_PanicIsolation(t *testing.T) {
	tr := newTestTracker(t, Config{}, nil)

	var mu sync.Mutex
	var calls int
	tr.RegisterCallback(func(result *core.ExecutionResult) {
		panic("observer bug")
	})
	tr.RegisterCallback(func(result *core.ExecutionResult) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	if _, err := tr.TrackOrder(trackedBuy("ord-1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateOrderStatus("ord-1", core.StatusCompleted, 1000, decimal.NewFromInt(50), ""); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})
}

func TestMonitoring(t *testing.T) {
	source := mock.NewMockStatusSource()
	tr := newTestTracker(t, Config{PollInterval: 10 * time.Millisecond}, source)

	if _, err := tr.TrackOrder(trackedBuy("ord-1")); err != nil {
		t.Fatal(err)
	}
	source.Script("ord-1",
		&core.OrderStatusUpdate{Status: "processing"},
		&core.OrderStatusUpdate{Status: "filled", FilledQuantity: 1000, FilledPrice: decimal.RequireFromString("50.25")},
	)

	if err := tr.StartMonitoring(); err != nil {
		t.Fatal(err)
	}
	if err := tr.StartMonitoring(); !errors.Is(err, apperrors.ErrMonitorRunning) {
		t.Fatalf("second start = %v, want ErrMonitorRunning", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		result, err := tr.GetExecutionStatus("ord-1")
		return err == nil && result.Status == core.StatusCompleted
	})

	result, err := tr.GetExecutionStatus("ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.FilledQuantity != 1000 || !result.FilledPrice.Equal(decimal.RequireFromString("50.25")) {
		t.Errorf("monitored fill = %d @ %s", result.FilledQuantity, result.FilledPrice)
	}

	if err := tr.StopMonitoring(); err != nil {
		t.Fatal(err)
	}
	if err := tr.StopMonitoring(); err != nil {
		t.Fatalf("stop when stopped = %v, want nil", err)
	}
}

func TestMonitoring_SkipsBadSources(t *testing.T) {
	source := mock.NewMockStatusSource()
	tr := newTestTracker(t, Config{PollInterval: 10 * time.Millisecond}, source)

	for _, id := range []string{"ord-err", "ord-limbo", "ord-good"} {
		if _, err := tr.TrackOrder(trackedBuy(id)); err != nil {
			t.Fatal(err)
		}
	}
	source.SetError("ord-err", errors.New("backend down"))
	source.Script("ord-limbo", &core.OrderStatusUpdate{Status: "limbo"})
	source.Script("ord-good", &core.OrderStatusUpdate{Status: "filled", FilledQuantity: 1000, FilledPrice: decimal.NewFromInt(50)})

	if err := tr.StartMonitoring(); err != nil {
		t.Fatal(err)
	}

	// The failing and unmapped orders must not stall the cycle.
	waitFor(t, 2*time.Second, func() bool {
		result, err := tr.GetExecutionStatus("ord-good")
		return err == nil && result.Status == core.StatusCompleted
	})

	for _, id := range []string{"ord-err", "ord-limbo"} {
		result, err := tr.GetExecutionStatus(id)
		if err != nil {
			t.Fatal(err)
		}
		if result.Status != core.StatusPending {
			t.Errorf("%s status = %s, want PENDING", id, result.Status)
		}
	}
	if source.Queries("ord-err") == 0 {
		t.Error("failing order was never polled")
	}
}

func TestTransitionAllowed(t *testing.T) {
	tests := []struct {
		from, to core.OrderStatus
		want     bool
	}{
		{core.StatusPending, core.StatusProcessing, true},
		{core.StatusPending, core.StatusCompleted, true},
		{core.StatusPending, core.StatusFailed, true},
		{core.StatusPending, core.StatusPending, true},
		{core.StatusProcessing, core.StatusCompleted, true},
		{core.StatusProcessing, core.StatusProcessing, true},
		{core.StatusProcessing, core.StatusPending, false},
		{core.StatusCompleted, core.StatusProcessing, false},
		{core.StatusFailed, core.StatusCompleted, false},
		{core.StatusCancelled, core.StatusProcessing, false},
	}
	for _, tt := range tests {
		if got := transitionAllowed(tt.from, tt.to); got != tt.want {
			t.Errorf("transitionAllowed(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMapExternalStatus(t *testing.T) {
	tests := []struct {
		raw    string
		status core.OrderStatus
		ok     bool
	}{
		{"pending", core.StatusPending, true},
		{"new", core.StatusPending, true},
		{" Filled ", core.StatusCompleted, true},
		{"partially_filled", core.StatusProcessing, true},
		{"accepted", core.StatusProcessing, true},
		{"REJECTED", core.StatusFailed, true},
		{"canceled", core.StatusCancelled, true},
		{"expired", core.StatusCancelled, true},
		{"limbo", "", false},
	}
	for _, tt := range tests {
		status, ok := mapExternalStatus(tt.raw)
		if ok != tt.ok || status != tt.status {
			t.Errorf("mapExternalStatus(%q) = (%s, %v), want (%s, %v)", tt.raw, status, ok, tt.status, tt.ok)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.StopTimeout != DefaultStopTimeout {
		t.Errorf("stop timeout = %s", cfg.StopTimeout)
	}
	if cfg.CallbackQueueSize != defaultCallbackQueueSize {
		t.Errorf("queue size = %d", cfg.CallbackQueueSize)
	}
}
