// Package telemetry initializes the OpenTelemetry metrics pipeline.
//
// All instruments in this codebase are created through the global meter
// provider, so wiring telemetry is a single NewProvider call at startup.
// When disabled, the global provider stays a no-op and instruments cost
// nothing.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"

	"github.com/tradedash/marketfeed/internal/version"
)

const serviceName = "marketfeed"

// Config defines the metrics export pipeline.
type Config struct {
	Enabled    bool          // Export metrics via OTLP
	Endpoint   string        // OTLP HTTP endpoint (host:port)
	Insecure   bool          // Plain HTTP instead of TLS
	Interval   time.Duration // Export cadence
	InstanceID string        // Resource attribute service.instance.id
	AZ         string        // Resource attribute cloud.availability_zone
}

// DefaultConfig returns defaults, honoring the standard OTLP endpoint
// environment variable when set.
func DefaultConfig() Config {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	return Config{
		Enabled:  false,
		Endpoint: endpoint,
		Insecure: true,
		Interval: 15 * time.Second,
	}
}

// Provider owns the meter provider lifecycle.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	cfg           Config
}

// NewProvider builds the metrics pipeline and installs it as the global
// meter provider. A disabled config returns a provider whose Shutdown is
// a no-op and leaves the global provider untouched.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{cfg: cfg}, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	mp, err := newMeterProvider(ctx, res, cfg)
	if err != nil {
		return nil, fmt.Errorf("create meter provider: %w", err)
	}
	otel.SetMeterProvider(mp)

	return &Provider{meterProvider: mp, cfg: cfg}, nil
}

// Shutdown flushes pending exports and stops the pipeline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}

// Meter returns a meter from this provider, falling back to the global
// one when exports are disabled.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if p == nil || p.meterProvider == nil {
		return otel.Meter(name, opts...)
	}
	return p.meterProvider.Meter(name, opts...)
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	opts := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version.Version),
		),
	}
	if cfg.InstanceID != "" {
		opts = append(opts, resource.WithAttributes(
			semconv.ServiceInstanceIDKey.String(cfg.InstanceID),
		))
	}
	if cfg.AZ != "" {
		opts = append(opts, resource.WithAttributes(
			semconv.CloudAvailabilityZoneKey.String(cfg.AZ),
		))
	}
	opts = append(opts,
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithHost(),
	)
	return resource.New(ctx, opts...)
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)),
		sdkmetric.WithView(histogramViews()...),
	)
	return mp, nil
}

// histogramViews pins explicit buckets for latency instruments whose
// default boundaries are far too coarse for sub-millisecond handlers.
func histogramViews() []sdkmetric.View {
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{
				Name: "marketfeed_feed_dispatch_duration",
				Kind: sdkmetric.InstrumentKindHistogram,
			},
			sdkmetric.Stream{
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
					Boundaries: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
				},
			},
		),
	}
}

// stripScheme removes an http:// or https:// prefix. The OTLP HTTP
// exporter expects host:port, not a URL.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return endpoint
}
