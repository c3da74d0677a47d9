// Package observability wires structured logging, tracing, and RED metrics
// for Caracal's components, adapted from the teacher's
// pkg/observability.Provider (§10.1, §11).
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
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

// Config configures the OpenTelemetry providers for one Caracal process
// (one of caracal-gateway, caracal-writer, caracal-verifier).
type Config struct {
	ServiceName  string
	OTLPEndpoint string // e.g. "localhost:4317"
	Insecure     bool
	Enabled      bool
	LogLevel     string // slog level name: DEBUG/INFO/WARN/ERROR
}

// DefaultConfig returns single-node development defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:  "caracal",
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		Enabled:      true,
		LogLevel:     "INFO",
	}
}

// Provider bundles the logger, tracer, and the component-specific RED
// metrics every C2/C4/C5 instrumentation point records against.
type Provider struct {
	config         Config
	Logger         *slog.Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// C2 validation RED metrics.
	validationCounter  metric.Int64Counter
	validationDenyCtr  metric.Int64Counter
	validationDuration metric.Float64Histogram

	// C4 writer metrics.
	batchSealCounter  metric.Int64Counter
	eventAppendErrCtr metric.Int64Counter

	// C5 verifier metrics.
	proofServeCounter  metric.Int64Counter
	proofServeDuration metric.Float64Histogram
}

// New builds a Provider, initializing OTel trace/metric pipelines when
// config.Enabled, and always wiring a JSON slog.Logger (§10.1: "structured
// logging... one logger constructed at process start").
func New(ctx context.Context, cfg Config) (*Provider, error) {
	level := parseLevel(cfg.LogLevel)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With("component", cfg.ServiceName)

	p := &Provider{config: cfg, Logger: logger}

	if !cfg.Enabled {
		logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		attribute.String("caracal.component", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("caracal/" + cfg.ServiceName)
	p.meter = otel.Meter("caracal/" + cfg.ServiceName)

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("observability: init metrics: %w", err)
	}

	logger.InfoContext(ctx, "observability initialized", "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func parseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
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
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	if p.validationCounter, err = p.meter.Int64Counter("caracal.validation.total",
		metric.WithDescription("Total gateway validation decisions"), metric.WithUnit("{decision}")); err != nil {
		return err
	}
	if p.validationDenyCtr, err = p.meter.Int64Counter("caracal.validation.denied",
		metric.WithDescription("Denied gateway validation decisions"), metric.WithUnit("{decision}")); err != nil {
		return err
	}
	if p.validationDuration, err = p.meter.Float64Histogram("caracal.validation.duration",
		metric.WithDescription("Validation latency, the §4.2 p99 target's source histogram"), metric.WithUnit("s")); err != nil {
		return err
	}
	if p.batchSealCounter, err = p.meter.Int64Counter("caracal.ledger.batches_sealed",
		metric.WithDescription("Merkle batches sealed by the writer"), metric.WithUnit("{batch}")); err != nil {
		return err
	}
	if p.eventAppendErrCtr, err = p.meter.Int64Counter("caracal.ledger.append_errors",
		metric.WithDescription("Event append failures"), metric.WithUnit("{error}")); err != nil {
		return err
	}
	if p.proofServeCounter, err = p.meter.Int64Counter("caracal.verifier.proofs_served",
		metric.WithDescription("Inclusion proofs served"), metric.WithUnit("{proof}")); err != nil {
		return err
	}
	if p.proofServeDuration, err = p.meter.Float64Histogram("caracal.verifier.proof_duration",
		metric.WithDescription("Inclusion proof construction latency"), metric.WithUnit("s")); err != nil {
		return err
	}
	return nil
}

// Shutdown drains and stops the trace/metric providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.Logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.Logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the component's tracer, falling back to a no-op-backed
// global tracer when observability is disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("caracal/" + p.config.ServiceName)
	}
	return p.tracer
}

// TrackValidation records one C2 validation decision's duration and
// rate/error counters, returning a completion func the caller invokes with
// the decision's deny/allow outcome.
func (p *Provider) TrackValidation(ctx context.Context) (context.Context, func(denied bool)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, "validate", trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, func(denied bool) {
		if p.validationCounter != nil {
			p.validationCounter.Add(ctx, 1)
		}
		if denied && p.validationDenyCtr != nil {
			p.validationDenyCtr.Add(ctx, 1)
		}
		if p.validationDuration != nil {
			p.validationDuration.Record(ctx, time.Since(start).Seconds())
		}
		span.End()
	}
}

// RecordBatchSealed increments the writer's batch-seal counter (§4.4).
func (p *Provider) RecordBatchSealed(ctx context.Context, reason string) {
	if p.batchSealCounter != nil {
		p.batchSealCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordAppendError increments the writer's append-error counter.
func (p *Provider) RecordAppendError(ctx context.Context) {
	if p.eventAppendErrCtr != nil {
		p.eventAppendErrCtr.Add(ctx, 1)
	}
}

// TrackProofServe records one C5 inclusion-proof request's duration.
func (p *Provider) TrackProofServe(ctx context.Context) (context.Context, func()) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, "inclusion_proof", trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, func() {
		if p.proofServeCounter != nil {
			p.proofServeCounter.Add(ctx, 1)
		}
		if p.proofServeDuration != nil {
			p.proofServeDuration.Record(ctx, time.Since(start).Seconds())
		}
		span.End()
	}
}
