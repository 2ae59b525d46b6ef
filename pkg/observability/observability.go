// Package observability wires OpenTelemetry tracing and metrics around the
// daemon loop and decision engine: cycle counts, decision latency, sink
// failures.
package observability

import (
	"context"
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

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

const instrumentationName = "heartbeat"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC, e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns the defaults used when telemetry is enabled
// without further configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "heartbeat",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider owns the trace and metric pipelines plus the engine instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	cycleCounter    metric.Int64Counter
	decisionCounter metric.Int64Counter
	decisionLatency metric.Float64Histogram
	sinkFailures    metric.Int64Counter
}

// New builds a provider. When disabled it is a no-op shell whose record
// methods are safe to call.
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
		return nil, contracts.WrapError(contracts.KindConfig, "build telemetry resource", err)
	}

	if err := p.initTraces(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate)
	return p, nil
}

func (p *Provider) initTraces(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "create trace exporter", err)
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
		propagation.TraceContext{}, propagation.Baggage{}))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "create metric exporter", err)
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
	p.cycleCounter, err = p.meter.Int64Counter("hb.daemon.cycles.total",
		metric.WithDescription("Daemon evaluation cycles"),
		metric.WithUnit("{cycle}"))
	if err != nil {
		return err
	}
	p.decisionCounter, err = p.meter.Int64Counter("hb.decisions.total",
		metric.WithDescription("Decisions emitted, by status"),
		metric.WithUnit("{decision}"))
	if err != nil {
		return err
	}
	p.decisionLatency, err = p.meter.Float64Histogram("hb.decision.latency",
		metric.WithDescription("Decision latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5))
	if err != nil {
		return err
	}
	p.sinkFailures, err = p.meter.Int64Counter("hb.sink.failures.total",
		metric.WithDescription("Alert sink delivery failures"),
		metric.WithUnit("{failure}"))
	return err
}

// RecordCycle counts one daemon cycle; ok=false marks it failed.
func (p *Provider) RecordCycle(ctx context.Context, ok bool) {
	if p.cycleCounter == nil {
		return
	}
	p.cycleCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

// RecordDecision counts a decision and its latency.
func (p *Provider) RecordDecision(ctx context.Context, status contracts.Status, latencySec float64) {
	if p.decisionCounter == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	p.decisionCounter.Add(ctx, 1, attrs)
	p.decisionLatency.Record(ctx, latencySec, attrs)
}

// RecordSinkFailure counts a failed sink delivery.
func (p *Provider) RecordSinkFailure(ctx context.Context, sink string) {
	if p.sinkFailures == nil {
		return
	}
	p.sinkFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// Tracer exposes the tracer for manual spans; nil when disabled.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and stops both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return contracts.WrapError(contracts.KindTransientIO, "shutdown tracer", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return contracts.WrapError(contracts.KindTransientIO, "shutdown meter", err)
		}
	}
	return nil
}
