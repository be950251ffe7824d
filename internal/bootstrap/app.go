// Package bootstrap wires configuration, logging, telemetry, and the
// execution engine stack into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/0Smallcat0/ai-trading-sub017/internal/config"
	"github.com/0Smallcat0/ai-trading-sub017/internal/core"
	"github.com/0Smallcat0/ai-trading-sub017/internal/engine"
	"github.com/0Smallcat0/ai-trading-sub017/internal/infrastructure/metrics"
	"github.com/0Smallcat0/ai-trading-sub017/internal/trading/dispatch"
	"github.com/0Smallcat0/ai-trading-sub017/internal/trading/optimizer"
	"github.com/0Smallcat0/ai-trading-sub017/internal/trading/position"
	"github.com/0Smallcat0/ai-trading-sub017/internal/trading/signal"
	"github.com/0Smallcat0/ai-trading-sub017/internal/trading/tracker"
	"github.com/0Smallcat0/ai-trading-sub017/pkg/logging"
	"github.com/0Smallcat0/ai-trading-sub017/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// App holds the wired application components
type App struct {
	Cfg     *config.Config
	Logger  core.ILogger
	Engine  *engine.Engine
	Paper   *dispatch.PaperBackend
	Metrics *metrics.Server

	telemetry *telemetry.Telemetry
}

// NewApp bootstraps the full execution stack from a config file. Real order
// backends are optional; without any, dispatch falls through to the paper
// venue and orders complete via its status source.
func NewApp(configPath string, tradeService, orderManager core.IOrderBackend) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logging.SetGlobalLogger(logger)

	tel, err := telemetry.Setup(cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	execCfg := cfg.Execution.ToCore()

	processor := signal.NewProcessor(signal.ProcessorConfig{
		MinConfidence: cfg.Signals.MinConfidence,
	}, logger)

	positions, err := position.NewManager(position.ManagerConfig{
		PortfolioValue:     decimal.NewFromFloat(cfg.Position.PortfolioValue),
		ConcentrationLimit: cfg.Position.ConcentrationLimit,
		Strategy:           cfg.Position.SizingStrategy,
		Sizing: position.SizingConfig{
			PercentOfPortfolio: cfg.Position.PercentOfPortfolio,
			RiskPerTrade:       cfg.Position.RiskPerTrade,
		},
	}, execCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("position manager: %w", err)
	}

	opt := optimizer.NewOptimizer(execCfg, nil, logger)

	paper := dispatch.NewPaperBackend(logger)
	trk := tracker.NewTracker(tracker.Config{
		PollInterval:      cfg.Tracker.PollInterval(),
		StopTimeout:       cfg.Tracker.StopTimeout(),
		CallbackQueueSize: cfg.Tracker.CallbackQueueSize,
	}, paper, logger)

	router := dispatch.NewRouter(dispatch.RouterConfig{
		RateLimit:       float64(cfg.Dispatch.RateLimit),
		Burst:           cfg.Dispatch.RateBurst,
		MaxRetries:      cfg.Dispatch.MaxRetries,
		RetryBackoff:    cfg.Dispatch.RetryBackoff(),
		BreakerFailures: uint(cfg.Dispatch.BreakerFailures),
		BreakerCapacity: uint(cfg.Dispatch.BreakerCapacity),
		BreakerDelay:    cfg.Dispatch.BreakerDelay(),
	}, tradeService, orderManager, paper, logger)

	eng := engine.NewEngine(execCfg, processor, positions, opt, trk, router, logger)

	app := &App{
		Cfg:       cfg,
		Logger:    logger,
		Engine:    eng,
		Paper:     paper,
		telemetry: tel,
	}
	if cfg.Telemetry.EnableMetrics {
		app.Metrics = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
	}
	return app, nil
}

// Runner is a component with a blocking lifecycle bound to a context
type Runner interface {
	Run(ctx context.Context) error
}

// Run starts the metrics server and all runners, then blocks until a
// termination signal or the first runner error
func (a *App) Run(runners ...Runner) error {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.Metrics != nil {
		a.Metrics.Start()
	}
	if err := a.Engine.StartMonitoring(); err != nil {
		return fmt.Errorf("monitoring: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	a.Logger.Info("Application started", "app", a.Cfg.App.Name)
	err := g.Wait()
	if err != nil && err != context.Canceled {
		a.Logger.Error("Application stopped with error", "error", err)
		a.shutdown()
		return err
	}

	a.shutdown()
	a.Logger.Info("Application shut down gracefully")
	return nil
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.Tracker.StopTimeout())
	defer cancel()

	a.Engine.Close()
	if a.Metrics != nil {
		if err := a.Metrics.Stop(ctx); err != nil {
			a.Logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.Logger.Warn("Telemetry shutdown failed", "error", err)
	}
	if syncer, ok := a.Logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
}
