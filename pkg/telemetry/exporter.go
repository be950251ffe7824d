package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// SetupMetricsOnly registers a Prometheus-backed meter provider without the
// trace and log pipelines, and initializes the application instruments on
// it. Tools and tests that only need instruments use this instead of Setup.
func SetupMetricsOnly(scope string) (*sdkmetric.MeterProvider, error) {
	reader, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus reader: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	if err := GetGlobalMetrics().InitMetrics(mp.Meter(scope)); err != nil {
		return nil, fmt.Errorf("instrument registration: %w", err)
	}
	return mp, nil
}
