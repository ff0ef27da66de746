// Package telemetry wires OpenTelemetry tracing and metrics into the
// scanner. The meter provider bridges into the Prometheus registry the
// metrics package already populates, so everything rides one /metrics
// endpoint.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var (
	initOnce  sync.Once
	meterProv *metric.MeterProvider
	initErr   error
)

// InitMeterProvider sets up the global OTel meter provider, exporting
// through the default Prometheus registerer. Safe to call more than
// once; later calls return the first result.
func InitMeterProvider(ctx context.Context, serviceName, version string) (*metric.MeterProvider, error) {
	initOnce.Do(func() {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(version),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("create resource: %w", err)
			return
		}

		// Share the registry with promauto so OTel instruments and the
		// hand-registered collectors appear on the same endpoint.
		promExporter, err := otelprom.New(
			otelprom.WithRegisterer(prometheus.DefaultRegisterer),
		)
		if err != nil {
			initErr = fmt.Errorf("create prometheus exporter: %w", err)
			return
		}

		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(promExporter),
		)
		otel.SetMeterProvider(mp)
		meterProv = mp
	})
	return meterProv, initErr
}

// Shutdown flushes and stops the meter provider.
func Shutdown(ctx context.Context) error {
	if meterProv == nil {
		return nil
	}
	if err := meterProv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}
