// Package telemetry installs the process-wide OpenTelemetry tracer provider
// for the orders server and opens one server span per HTTP request.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/config"
)

const (
	ServiceName = "mrblonde-orders"

	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"

	flushTimeout = 5 * time.Second
)

// Provider owns the installed tracer provider. With tracing disabled it
// wraps a no-op provider and Shutdown does nothing.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Shutdown flushes buffered spans, waiting at most five seconds.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	return p.shutdown(ctx)
}

// Setup builds a provider from cfg, installs it globally together with the
// W3C trace context and baggage propagators, and routes OTel's internal
// errors to log.
func Setup(ctx context.Context, cfg config.Tracing, serviceVersion string, log *zap.SugaredLogger) (*Provider, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return &Provider{tp: tp}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate, log)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("Tracing pipeline error", "error", err)
	}))

	log.Infow("Tracing enabled", "exporter", cfg.Exporter, "endpoint", cfg.Endpoint, "sampling_rate", cfg.SamplingRate)
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

// sampler follows the parent's decision and samples root spans at rate.
// Rates outside (0, 1] fall back to sampling everything.
func sampler(rate float64, log *zap.SugaredLogger) sdktrace.Sampler {
	if rate <= 0 || rate > 1 {
		log.Warnw("Tracing sampling rate out of range, sampling everything", "sampling_rate", rate)
		rate = 1
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func newExporter(ctx context.Context, cfg config.Tracing) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLP, "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp trace exporter for %s: %w", cfg.Endpoint, err)
		}
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		return exp, nil
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (expected %s, %s or %s)", cfg.Exporter, ExporterOTLP, ExporterStdout, ExporterNone)
	}
}
