package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitProvider wires a Prometheus exporter into an OTel MeterProvider
// and registers it as the global provider, following
// MrWong99-glyphoxa/internal/observe/provider.go's metrics half
// (trimmed: this pipeline has no spans to export, so the tracing
// half of the donor's InitProvider is not carried over). Returns a
// shutdown function to defer in main().
func InitProvider() (mp *sdkmetric.MeterProvider, shutdown func() error, err error) {
	promExp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExp))
	otel.SetMeterProvider(mp)

	return mp, func() error { return mp.Shutdown(context.Background()) }, nil
}
