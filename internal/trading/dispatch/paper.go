package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	apperrors "github.com/0Smallcat0/ai-trading-sub017/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// defaultFillPrice is used when an order carries no price to fill against
var defaultFillPrice = decimal.NewFromInt(100)

// PaperBackend simulates an execution venue by filling every order
// immediately at the order price. It also implements
// core.IOrderStatusSource, so paper orders complete through the same status
// polling path as real ones.
type PaperBackend struct {
	logger core.ILogger

	mu    sync.Mutex
	fills map[string]*core.OrderStatusUpdate
}

// NewPaperBackend creates an empty paper venue
func NewPaperBackend(logger core.ILogger) *PaperBackend {
	return &PaperBackend{
		logger: logger.WithField("component", "paper_backend"),
		fills:  make(map[string]*core.OrderStatusUpdate),
	}
}

// Submit records an immediate synthetic fill for the order
func (p *PaperBackend) Submit(ctx context.Context, order *core.ExecutionOrder) (*core.DispatchAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if order == nil {
		return nil, &core.ValidationError{Field: "order", Message: "order is nil"}
	}

	price := order.Price
	if !price.IsPositive() {
		price = defaultFillPrice
	}

	p.mu.Lock()
	p.fills[order.OrderID] = &core.OrderStatusUpdate{
		Status:         "filled",
		FilledQuantity: order.Quantity,
		FilledPrice:    price,
	}
	p.mu.Unlock()

	p.logger.Debug("Paper fill recorded",
		"order_id", order.OrderID,
		"symbol", order.Symbol,
		"quantity", order.Quantity,
		"price", price,
	)
	return &core.DispatchAck{
		ExternalID: "paper-" + uuid.NewString()[:8],
		Message:    "paper fill",
	}, nil
}

// GetOrder reports the recorded fill for the status poller
func (p *PaperBackend) GetOrder(ctx context.Context, orderID string) (*core.OrderStatusUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	update, exists := p.fills[orderID]
	if !exists {
		return nil, fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	snapshot := *update
	return &snapshot, nil
}

// FillCount returns how many orders have been filled on paper
func (p *PaperBackend) FillCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fills)
}
