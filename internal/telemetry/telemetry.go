// Package telemetry installs the OpenTelemetry meter provider and exposes
// its Prometheus scrape handler.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Metric exporters.
const (
	ExporterPrometheus = "prometheus"
	ExporterNone       = "none"
)

// Config selects the metric exporter and identifies the service.
type Config struct {
	Exporter       string
	ServiceName    string
	ServiceVersion string
}

// Telemetry holds the installed provider.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// Init builds a meter provider for cfg and makes it the global one. With
// ExporterNone it returns a Telemetry whose Handler is nil and leaves the
// global no-op provider in place.
func Init(_ context.Context, cfg Config) (*Telemetry, error) {
	switch cfg.Exporter {
	case ExporterNone, "":
		return &Telemetry{}, nil
	case ExporterPrometheus:
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", cfg.Exporter)
	}

	// A private registry keeps repeated Init calls (tests, subcommands) from
	// colliding on the default one.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create prometheus exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	return &Telemetry{
		provider: mp,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}

// Handler returns the scrape handler, or nil when metrics are disabled.
func (t *Telemetry) Handler() http.Handler {
	return t.handler
}

// Shutdown flushes and stops the provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return nil
}
