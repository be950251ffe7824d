// Package mock provides scriptable test doubles for the execution backends.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	apperrors "github.com/0Smallcat0/ai-trading-sub017/pkg/errors"
)

// MockBackend implements core.IOrderBackend for testing
type MockBackend struct {
	mu          sync.Mutex
	submitted   []*core.ExecutionOrder
	failNext    int
	submitErr   error
	rejectIDs   map[string]bool
	acks        map[string]*core.DispatchAck
	submitCount int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		rejectIDs: make(map[string]bool),
		acks:      make(map[string]*core.DispatchAck),
	}
}

// FailNext makes the next n submissions fail with a transient error
func (m *MockBackend) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// SetSubmitError makes every submission fail with err until cleared
func (m *MockBackend) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// RejectOrder makes submissions of orderID fail terminally
func (m *MockBackend) RejectOrder(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectIDs[orderID] = true
}

// SetAck overrides the ack returned for one order
func (m *MockBackend) SetAck(orderID string, ack *core.DispatchAck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks[orderID] = ack
}

func (m *MockBackend) Submit(ctx context.Context, order *core.ExecutionOrder) (*core.DispatchAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitCount++
	if m.failNext > 0 {
		m.failNext--
		return nil, fmt.Errorf("mock backend: transient submit failure")
	}
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	if m.rejectIDs[order.OrderID] {
		return nil, fmt.Errorf("order %s: %w", order.OrderID, apperrors.ErrOrderRejected)
	}

	m.submitted = append(m.submitted, order)
	if ack, ok := m.acks[order.OrderID]; ok {
		return ack, nil
	}
	return &core.DispatchAck{ExternalID: fmt.Sprintf("mock-%d", m.submitCount)}, nil
}

// Submitted returns a copy of the accepted orders in submission order
func (m *MockBackend) Submitted() []*core.ExecutionOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.ExecutionOrder, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// SubmitCount returns the total number of Submit calls, including failures
func (m *MockBackend) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCount
}

// MockStatusSource implements core.IOrderStatusSource with scripted update
// sequences. Each query pops the next update; the last one repeats.
type MockStatusSource struct {
	mu      sync.Mutex
	scripts map[string][]*core.OrderStatusUpdate
	errs    map[string]error
	queries map[string]int
}

func NewMockStatusSource() *MockStatusSource {
	return &MockStatusSource{
		scripts: make(map[string][]*core.OrderStatusUpdate),
		errs:    make(map[string]error),
		queries: make(map[string]int),
	}
}

// Script sets the update sequence returned for orderID
func (m *MockStatusSource) Script(orderID string, updates ...*core.OrderStatusUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[orderID] = updates
}

// SetError makes queries for orderID fail with err
func (m *MockStatusSource) SetError(orderID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[orderID] = err
}

func (m *MockStatusSource) GetOrder(ctx context.Context, orderID string) (*core.OrderStatusUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries[orderID]++
	if err := m.errs[orderID]; err != nil {
		return nil, err
	}

	seq := m.scripts[orderID]
	if len(seq) == 0 {
		return nil, fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	update := seq[0]
	if len(seq) > 1 {
		m.scripts[orderID] = seq[1:]
	}
	snapshot := *update
	return &snapshot, nil
}

// Queries returns how many times orderID was polled
func (m *MockStatusSource) Queries(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[orderID]
}

// MockMarketData implements core.IMarketDataProvider
type MockMarketData struct {
	mu  sync.RWMutex
	adv map[string]int64
}

func NewMockMarketData() *MockMarketData {
	return &MockMarketData{adv: make(map[string]int64)}
}

// SetAvgDailyVolume sets the liquidity figure returned for symbol
func (m *MockMarketData) SetAvgDailyVolume(symbol string, volume int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adv[symbol] = volume
}

func (m *MockMarketData) AvgDailyVolume(symbol string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.adv[symbol]
	return v, ok
}
