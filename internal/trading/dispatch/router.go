// Package dispatch routes child orders to an execution backend with rate
// limiting and a retry/circuit-breaker pipeline. Dispatch outcomes are
// captured per child and never propagated as errors to the execution path.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	apperrors "github.com/0Smallcat0/ai-trading-sub017/pkg/errors"
	"github.com/0Smallcat0/ai-trading-sub017/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Backend selection names used in logs and metric attributes
const (
	backendTradeService = "trade_service"
	backendOrderManager = "order_manager"
	backendPaper        = "paper"
)

// RouterConfig holds dispatch tuning knobs
type RouterConfig struct {
	RateLimit       float64
	Burst           int
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	BreakerFailures uint
	BreakerCapacity uint
	BreakerDelay    time.Duration
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.RateLimit <= 0 {
		c.RateLimit = 25
	}
	if c.Burst <= 0 {
		c.Burst = 30
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = 2 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCapacity == 0 {
		c.BreakerCapacity = 10
	}
	if c.BreakerDelay <= 0 {
		c.BreakerDelay = 10 * time.Second
	}
	return c
}

// Router selects a backend per order and submits through the resilience
// pipeline. Selection order: paper when dry-run, else trade service, else
// order manager, else paper.
type Router struct {
	tradeService core.IOrderBackend
	orderManager core.IOrderBackend
	paper        *PaperBackend

	limiter  *rate.Limiter
	pipeline failsafe.Executor[*core.DispatchAck]
	logger   core.ILogger

	dispatchCounter metric.Int64Counter
	errorCounter    metric.Int64Counter
}

// NewRouter creates a router. tradeService and orderManager are optional;
// paper must be present so dispatch always has a backend.
func NewRouter(cfg RouterConfig, tradeService, orderManager core.IOrderBackend, paper *PaperBackend, logger core.ILogger) *Router {
	cfg = cfg.withDefaults()

	retryPolicy := retrypolicy.NewBuilder[*core.DispatchAck]().
		HandleIf(func(ack *core.DispatchAck, err error) bool {
			// Rejections are terminal, transport errors retry
			return err != nil && !errors.Is(err, apperrors.ErrOrderRejected)
		}).
		WithBackoff(cfg.RetryBackoff, cfg.MaxRetryBackoff).
		WithMaxRetries(cfg.MaxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[*core.DispatchAck]().
		HandleIf(func(ack *core.DispatchAck, err error) bool {
			return err != nil && !errors.Is(err, apperrors.ErrOrderRejected)
		}).
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerCapacity).
		WithDelay(cfg.BreakerDelay).
		Build()

	meter := telemetry.GetMeter("order-dispatch")
	dispatchCounter, _ := meter.Int64Counter(telemetry.MetricDispatchTotal,
		metric.WithDescription("Total dispatch attempts"))
	errorCounter, _ := meter.Int64Counter(telemetry.MetricDispatchErrors,
		metric.WithDescription("Dispatch attempts that failed"))

	return &Router{
		tradeService:    tradeService,
		orderManager:    orderManager,
		paper:           paper,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		pipeline:        failsafe.With[*core.DispatchAck](retryPolicy, breaker),
		logger:          logger.WithField("component", "order_dispatch"),
		dispatchCounter: dispatchCounter,
		errorCounter:    errorCounter,
	}
}

// Dispatch submits one child order and returns its outcome. Failures are
// captured in the result, never returned.
func (r *Router) Dispatch(ctx context.Context, order *core.ExecutionOrder, dryRun bool) *core.ChildExecution {
	child := &core.ChildExecution{OrderID: order.OrderID}

	backend, name := r.selectBackend(dryRun)
	if backend == nil {
		child.Message = apperrors.ErrNoBackend.Error()
		r.logger.Error("No dispatch backend configured", "order_id", order.OrderID)
		return child
	}

	attrs := metric.WithAttributes(
		attribute.String("backend", name),
		attribute.String("symbol", order.Symbol),
	)
	r.dispatchCounter.Add(ctx, 1, attrs)

	// The paper backend is local, only real venues are rate limited
	if name != backendPaper {
		if err := r.limiter.Wait(ctx); err != nil {
			child.Message = "rate limit wait failed: " + err.Error()
			r.errorCounter.Add(ctx, 1, attrs)
			r.logger.Warn("Order dispatch aborted", "order_id", order.OrderID, "backend", name, "error", err)
			return child
		}
	}

	ack, err := r.pipeline.GetWithExecution(func(exec failsafe.Execution[*core.DispatchAck]) (*core.DispatchAck, error) {
		return backend.Submit(ctx, order)
	})
	if err != nil {
		child.Message = err.Error()
		r.errorCounter.Add(ctx, 1, attrs)
		r.logger.Warn("Order dispatch failed",
			"order_id", order.OrderID,
			"backend", name,
			"error", err,
		)
		return child
	}

	child.Success = true
	child.Message = "submitted to " + name
	if ack != nil {
		child.ExternalID = ack.ExternalID
		if ack.Message != "" {
			child.Message = ack.Message
		}
	}
	r.logger.Debug("Order dispatched",
		"order_id", order.OrderID,
		"backend", name,
		"external_id", child.ExternalID,
	)
	return child
}

func (r *Router) selectBackend(dryRun bool) (core.IOrderBackend, string) {
	if dryRun {
		if r.paper != nil {
			return r.paper, backendPaper
		}
		return nil, ""
	}
	if r.tradeService != nil {
		return r.tradeService, backendTradeService
	}
	if r.orderManager != nil {
		return r.orderManager, backendOrderManager
	}
	if r.paper != nil {
		return r.paper, backendPaper
	}
	return nil, ""
}
