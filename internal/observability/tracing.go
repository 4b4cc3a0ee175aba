package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer for spans around provider requests
// and tool dispatch. With no endpoint configured, Start still returns a
// valid no-op span so callers never need to branch on whether tracing is
// enabled.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TraceConfig configures the distributed tracing behavior.
type TraceConfig struct {
	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion identifies the service version.
	ServiceVersion string

	// Environment specifies the deployment environment (production, staging, dev).
	Environment string

	// Endpoint is the OTLP collector endpoint (e.g. "localhost:4317").
	// If empty, tracing is disabled and a no-op tracer is returned.
	Endpoint string

	// SamplingRate controls what fraction of traces are recorded (0.0 to
	// 1.0). Defaults to 1.0 if unset.
	SamplingRate float64

	// EnableInsecure disables TLS for the OTLP connection (dev/testing only).
	EnableInsecure bool
}

// SpanOptions configures span creation behavior.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// NewTracer creates a tracer with the given configuration and returns a
// shutdown function that must be called on exit. If config.Endpoint is
// empty, or the exporter cannot be built, a no-op tracer is returned.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, func(context.Context) error { return nil }
	}
	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, func(context.Context) error { return nil }
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(config.ServiceName), semconv.ServiceVersion(config.ServiceVersion)}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	tracer := &Tracer{provider: provider, tracer: provider.Tracer(config.ServiceName)}
	return tracer, provider.Shutdown
}

// Start creates a new span and returns a context carrying it.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	var options []trace.SpanStartOption
	if len(opts) > 0 {
		if opts[0].Kind != 0 {
			options = append(options, trace.WithSpanKind(opts[0].Kind))
		}
		if len(opts[0].Attributes) > 0 {
			options = append(options, trace.WithAttributes(opts[0].Attributes...))
		}
	}
	return t.tracer.Start(ctx, name, options...)
}

// RecordError records an error on the span and marks it failed.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets "key", value, "key", value, ... pairs on a span.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
	}
	span.SetAttributes(attrs...)
}

// TraceLLMRequest starts a client span for one provider chat request.
func (t *Tracer) TraceLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("llm.%s", provider), SpanOptions{
		Kind: trace.SpanKindClient,
		Attributes: []attribute.KeyValue{
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		},
	})
}

// TraceToolExecution starts an internal span for one tool dispatch.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("tool.%s", toolName), SpanOptions{
		Kind:       trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{attribute.String("tool.name", toolName)},
	})
}

// attributeFromValue creates an attribute.KeyValue from a Go value.
func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// WithSpan starts a span, runs fn, records any error fn returns onto the
// span, and ends the span before returning.
func WithSpan(ctx context.Context, tracer *Tracer, name string, fn func(context.Context, trace.Span) error) error {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	err := fn(ctx, span)
	if err != nil {
		tracer.RecordError(span, err)
	}
	return err
}

// GetTraceID returns the active span's trace ID, or "" if none.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the active span's span ID, or "" if none.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
