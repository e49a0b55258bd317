// Package observability wires OpenTelemetry tracing and metrics for the
// oracle. Everything is a safe no-op when telemetry is disabled, so the
// pipeline never branches on whether a collector is configured.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "dissonance.oracle"

// Config configures the telemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns the disabled-by-default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "dissonance",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider holds the tracer, meter, and the oracle's metric instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	analyzeTotal    metric.Int64Counter
	analyzeDuration metric.Float64Histogram
	rulesInflight   metric.Int64UpDownCounter
	breakerOpen     metric.Int64Counter
	ruleDuration    metric.Float64Histogram
}

// New builds a provider. With Enabled false it returns a no-op provider
// without touching the network.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.analyzeTotal, err = p.meter.Int64Counter("dissonance_analyze_total",
		metric.WithDescription("Analyses processed, by mode, decision, and degraded flag"),
		metric.WithUnit("{analysis}"),
	)
	if err != nil {
		return err
	}

	p.analyzeDuration, err = p.meter.Float64Histogram("dissonance_analyze_duration_seconds",
		metric.WithDescription("End-to-end analysis duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return err
	}

	p.rulesInflight, err = p.meter.Int64UpDownCounter("dissonance_rules_inflight",
		metric.WithDescription("Rule evaluations currently running"),
		metric.WithUnit("{rule}"),
	)
	if err != nil {
		return err
	}

	p.breakerOpen, err = p.meter.Int64Counter("dissonance_breaker_open_total",
		metric.WithDescription("Blocking findings demoted by an open circuit breaker"),
		metric.WithUnit("{demotion}"),
	)
	if err != nil {
		return err
	}

	p.ruleDuration, err = p.meter.Float64Histogram("dissonance_rule_duration_seconds",
		metric.WithDescription("Per-rule evaluation duration"),
		metric.WithUnit("s"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the provider's tracer, falling back to the global one.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// StartSpan starts a span on the provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordAnalysis counts one finished analysis.
func (p *Provider) RecordAnalysis(ctx context.Context, mode, decision string, degraded bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("decision", decision),
		attribute.Bool("degraded", degraded),
	)
	if p.analyzeTotal != nil {
		p.analyzeTotal.Add(ctx, 1, attrs)
	}
	if p.analyzeDuration != nil {
		p.analyzeDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordBreakerOpen counts a breaker demotion for a rule.
func (p *Provider) RecordBreakerOpen(ctx context.Context, ruleID string) {
	if p.breakerOpen != nil {
		p.breakerOpen.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", ruleID)))
	}
}

// TrackRule marks a rule evaluation in flight and returns its completion
// func, which records the duration.
func (p *Provider) TrackRule(ctx context.Context, ruleID string) func() {
	attrs := metric.WithAttributes(attribute.String("rule_id", ruleID))
	if p.rulesInflight != nil {
		p.rulesInflight.Add(ctx, 1, attrs)
	}
	start := time.Now()
	return func() {
		if p.rulesInflight != nil {
			p.rulesInflight.Add(ctx, -1, attrs)
		}
		if p.ruleDuration != nil {
			p.ruleDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}
}

// TrackOperation opens a span for a named pipeline stage and returns the
// completion func recording its outcome.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
