package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/0Smallcat0/ai-trading-sub017/internal/bootstrap"
	"github.com/0Smallcat0/ai-trading-sub017/internal/core"

	"github.com/shopspring/decimal"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/execd.yaml", "Path to configuration file")
	signalsPath := flag.String("signals", "", "Path to a JSON-lines signal file to execute")
	demo := flag.Bool("demo", false, "Execute a built-in demo batch and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("execd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath, nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}

	app.Logger.Info("Starting execd",
		"version", version,
		"dry_run", app.Cfg.Execution.DryRun,
		"sizing_strategy", app.Cfg.Position.SizingStrategy,
	)

	runner := &signalRunner{
		app:         app,
		signalsPath: *signalsPath,
		demo:        *demo,
	}
	if err := app.Run(runner); err != nil {
		os.Exit(1)
	}
}

// signalRunner feeds signals into the engine: from a JSON-lines file, from
// the built-in demo batch, or neither (daemon mode, serving metrics until
// interrupted).
type signalRunner struct {
	app         *bootstrap.App
	signalsPath string
	demo        bool
}

func (r *signalRunner) Run(ctx context.Context) error {
	switch {
	case r.signalsPath != "":
		if err := r.executeFile(ctx); err != nil {
			return err
		}
	case r.demo:
		r.executeDemo(ctx)
	default:
		<-ctx.Done()
		return ctx.Err()
	}

	r.waitForCompletion(ctx)
	r.printStatistics()
	return nil
}

// executeFile reads one JSON signal object per line and executes each in
// order. Malformed lines are logged and skipped.
func (r *signalRunner) executeFile(ctx context.Context) error {
	f, err := os.Open(r.signalsPath)
	if err != nil {
		return fmt.Errorf("signals file: %w", err)
	}
	defer f.Close()

	logger := r.app.Logger
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(text, &raw); err != nil {
			logger.Warn("Skipping malformed signal line", "line", line, "error", err)
			continue
		}
		sig, err := core.SignalFromMap(raw)
		if err != nil {
			logger.Warn("Skipping invalid signal", "line", line, "error", err)
			continue
		}

		report := r.app.Engine.ExecuteStrategySignal(ctx, sig, nil)
		printReport(report)
	}
	return scanner.Err()
}

// executeDemo runs a small batch against a synthetic market snapshot
func (r *signalRunner) executeDemo(ctx context.Context) {
	now := time.Now()
	snapshot := &core.MarketSnapshot{
		Prices: map[string]decimal.Decimal{
			"2330": decimal.NewFromInt(580),
			"2454": decimal.NewFromInt(1200),
		},
		AvgDailyVolume: 25_000_000,
		Volatility: map[string]float64{
			"2330": 0.018,
			"2454": 0.032,
		},
	}
	signals := []*core.TradingSignal{
		{Symbol: "2330", Type: core.SignalBuy, Confidence: 0.85, Timestamp: now, StrategyName: "demo_momentum"},
		{Symbol: "2454", Type: core.SignalBuy, Confidence: 0.72, Timestamp: now, StrategyName: "demo_momentum"},
		{Symbol: "2330", Type: core.SignalHold, Confidence: 0.90, Timestamp: now.Add(time.Second), StrategyName: "demo_momentum"},
		{Symbol: "2454", Type: core.SignalSell, Confidence: 0.30, Timestamp: now.Add(time.Second), StrategyName: "demo_momentum"},
	}

	reports := r.app.Engine.ExecuteSignalsBatch(ctx, signals, snapshot)
	for _, report := range reports {
		printReport(report)
	}
}

// waitForCompletion lets the monitor drain in-flight orders, bounded by the
// tracker stop timeout
func (r *signalRunner) waitForCompletion(ctx context.Context) {
	deadline := time.NewTimer(r.app.Cfg.Tracker.StopTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(r.app.Cfg.Tracker.PollInterval() / 2)
	defer ticker.Stop()

	for {
		if r.app.Engine.GetExecutionStatistics().ActiveOrders == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			r.app.Logger.Warn("Orders still active at shutdown",
				"active", r.app.Engine.GetExecutionStatistics().ActiveOrders)
			return
		case <-ticker.C:
		}
	}
}

func (r *signalRunner) printStatistics() {
	stats := r.app.Engine.GetExecutionStatistics()
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		r.app.Logger.Error("Failed to marshal statistics", "error", err)
		return
	}
	fmt.Println(string(out))
}

func printReport(report *core.ExecutionReport) {
	out, err := json.Marshal(report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "report %s: %v\n", report.ExecutionID, err)
		return
	}
	fmt.Println(string(out))
}
