// Package observability installs the OpenTelemetry meter provider that
// collects the client metrics and periodically writes them out.
package observability

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	DefaultServiceName = "mammoth-go"
	DefaultInterval    = 15 * time.Second

	// EndpointStdout writes metrics to Writer instead of an OTLP collector.
	EndpointStdout = "stdout"

	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// Config selects whether metrics are exported and how often.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Interval       time.Duration
	// Endpoint is an OTLP collector address (host:port) or EndpointStdout.
	// Empty means stdout.
	Endpoint string
	// Protocol is ProtocolHTTP or ProtocolGRPC; only used for OTLP endpoints.
	Protocol string
	Insecure bool
	Headers  map[string]string
	// Writer receives the exported metrics as JSON. Defaults to stdout.
	Writer io.Writer
	// Pretty indents the JSON output.
	Pretty bool
}

// Provider manages the lifecycle of the meter provider.
type Provider interface {
	// MeterProvider returns the configured meter provider.
	MeterProvider() metric.MeterProvider

	// Shutdown flushes pending data and stops the exporter.
	Shutdown(ctx context.Context) error

	// ForceFlush immediately exports collected metrics.
	ForceFlush(ctx context.Context) error
}

type provider struct {
	meterProvider *sdkmetric.MeterProvider
	mu            sync.Mutex
	shutdown      bool
}

// NewProvider creates a provider and registers it as the global meter
// provider. A disabled config yields a no-op provider and leaves the global
// untouched.
func NewProvider(cfg Config) (Provider, error) {
	if !cfg.Enabled {
		return newNoopProvider(), nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	res, err := createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createMetricExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))
	p := &provider{
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		),
	}

	otel.SetMeterProvider(p.meterProvider)
	return p, nil
}

func createResource(cfg Config) (*resource.Resource, error) {
	custom, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}
	return resource.Merge(resource.Default(), custom)
}

func createMetricExporter(cfg Config) (sdkmetric.Exporter, error) {
	if cfg.Endpoint == "" || cfg.Endpoint == EndpointStdout {
		return createStdoutExporter(cfg)
	}
	switch cfg.Protocol {
	case "", ProtocolHTTP:
		return createOTLPHTTPExporter(cfg)
	case ProtocolGRPC:
		return createOTLPGRPCExporter(cfg)
	default:
		return nil, fmt.Errorf("unsupported protocol %q (use %s or %s)", cfg.Protocol, ProtocolHTTP, ProtocolGRPC)
	}
}

func createStdoutExporter(cfg Config) (sdkmetric.Exporter, error) {
	var opts []stdoutmetric.Option
	if cfg.Writer != nil {
		opts = append(opts, stdoutmetric.WithWriter(cfg.Writer))
	}
	if cfg.Pretty {
		opts = append(opts, stdoutmetric.WithPrettyPrint())
	}
	return stdoutmetric.New(opts...)
}

func createOTLPHTTPExporter(cfg Config) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	return otlpmetrichttp.New(context.Background(), opts...)
}

func createOTLPGRPCExporter(cfg Config) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}
	return otlpmetricgrpc.New(context.Background(), opts...)
}

func (p *provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// Shutdown is safe to call more than once.
func (p *provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return nil
	}
	p.shutdown = true
	return p.meterProvider.Shutdown(ctx)
}

func (p *provider) ForceFlush(ctx context.Context) error {
	return p.meterProvider.ForceFlush(ctx)
}
