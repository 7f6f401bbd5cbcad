// Package observability wires OpenTelemetry tracing and metrics for
// the decision intelligence core. Instruments cover the evaluation
// pipeline: evaluations run, lifecycle transitions, conflicts
// detected, notifications emitted, and scheduler tick latency.
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

const instrumentationName = "decivue.core"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // gRPC collector endpoint, e.g. "localhost:4317"
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	ExportInterval time.Duration // metric reader interval
	Enabled        bool
	Insecure       bool // plaintext collector connection, dev only
}

// DefaultConfig returns development defaults: sample everything,
// export to a local collector.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "decivue-core",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages the trace and metric providers plus the core's
// domain instruments. All Record methods are no-ops when telemetry
// is disabled.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	evaluations       metric.Int64Counter
	transitions       metric.Int64Counter
	conflicts         metric.Int64Counter
	notifications     metric.Int64Counter
	tickDuration      metric.Float64Histogram
	activeEvaluations metric.Int64UpDownCounter
}

// New creates an observability provider and installs it as the
// global OTel provider pair.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
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
		return nil, fmt.Errorf("create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)

	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
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
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
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
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	interval := p.config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)),
	)

	otel.SetMeterProvider(p.meterProvider)

	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.evaluations, err = p.meter.Int64Counter("decivue.evaluations.total",
		metric.WithDescription("Decisions evaluated by the engine"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return err
	}

	p.transitions, err = p.meter.Int64Counter("decivue.lifecycle.transitions.total",
		metric.WithDescription("Lifecycle state transitions committed"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}

	p.conflicts, err = p.meter.Int64Counter("decivue.conflicts.detected.total",
		metric.WithDescription("Conflicts recorded by detectors"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return err
	}

	p.notifications, err = p.meter.Int64Counter("decivue.notifications.total",
		metric.WithDescription("Notifications emitted"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return err
	}

	p.tickDuration, err = p.meter.Float64Histogram("decivue.scheduler.tick.duration",
		metric.WithDescription("Scheduler tick duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return err
	}

	p.activeEvaluations, err = p.meter.Int64UpDownCounter("decivue.evaluations.active",
		metric.WithDescription("Evaluations currently in flight"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown flushes and stops both providers.
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

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a span under the core tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordEvaluation counts one engine evaluation.
func (p *Provider) RecordEvaluation(ctx context.Context, changed bool, attrs ...attribute.KeyValue) {
	if p.evaluations != nil {
		all := append(attrs, attribute.Bool("decivue.evaluation.changed", changed))
		p.evaluations.Add(ctx, 1, metric.WithAttributes(all...))
	}
}

// RecordTransition counts one committed lifecycle transition.
func (p *Provider) RecordTransition(ctx context.Context, from, to string, attrs ...attribute.KeyValue) {
	if p.transitions != nil {
		all := append(attrs,
			AttrLifecycleFrom.String(from),
			AttrLifecycleTo.String(to),
		)
		p.transitions.Add(ctx, 1, metric.WithAttributes(all...))
	}
}

// RecordConflict counts one recorded conflict.
func (p *Provider) RecordConflict(ctx context.Context, kind string, attrs ...attribute.KeyValue) {
	if p.conflicts != nil {
		all := append(attrs, AttrConflictKind.String(kind))
		p.conflicts.Add(ctx, 1, metric.WithAttributes(all...))
	}
}

// RecordNotification counts one emitted notification.
func (p *Provider) RecordNotification(ctx context.Context, eventType string, attrs ...attribute.KeyValue) {
	if p.notifications != nil {
		all := append(attrs, attribute.String("decivue.notification.type", eventType))
		p.notifications.Add(ctx, 1, metric.WithAttributes(all...))
	}
}

// RecordTickDuration records one scheduler tick's wall time.
func (p *Provider) RecordTickDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if p.tickDuration != nil {
		p.tickDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// TrackEvaluation opens a span for one decision evaluation and
// maintains the in-flight gauge. The returned func closes the span
// and records the outcome.
func (p *Provider) TrackEvaluation(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, func(changed bool, err error)) {
	ctx, span := p.StartSpan(ctx, "engine.evaluate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p.activeEvaluations != nil {
		p.activeEvaluations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(changed bool, err error) {
		if p.activeEvaluations != nil {
			p.activeEvaluations.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
		} else {
			p.RecordEvaluation(ctx, changed, attrs...)
		}
		span.End()
	}
}
