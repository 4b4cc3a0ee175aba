package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{name: "with endpoint", config: TraceConfig{ServiceName: "pi", Endpoint: "localhost:4317", EnableInsecure: true}},
		{name: "without endpoint (no-op)", config: TraceConfig{ServiceName: "pi"}},
		{name: "with sampling", config: TraceConfig{ServiceName: "pi", SamplingRate: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()
			if tracer == nil {
				t.Fatal("NewTracer() returned nil")
			}
			if tracer.tracer == nil {
				t.Error("tracer.tracer is nil")
			}
		})
	}
}

func TestTracerStart(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()
	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
	if span == nil {
		t.Fatal("Start() returned nil span")
	}
}

func TestTracerRecordError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()
	tracer.RecordError(span, errors.New("boom"))
}

func TestTracerRecordErrorWithNil(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()
	tracer.RecordError(span, nil)
}

func TestSetAttributes(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()
	tracer.SetAttributes(span, "llm.provider", "anthropic", "retries", 2, "cost_usd", 0.05, "ok", true)
}

func TestSetAttributesWithInvalidKeyvals(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()
	tracer.SetAttributes(span, 123, "skipped")
}

func TestTraceLLMRequest(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.TraceLLMRequest(context.Background(), "anthropic", "claude-3-opus")
	defer span.End()
	if ctx == nil || span == nil {
		t.Fatal("TraceLLMRequest() returned nil")
	}
}

func TestTraceToolExecution(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.TraceToolExecution(context.Background(), "read_file")
	defer span.End()
	if ctx == nil || span == nil {
		t.Fatal("TraceToolExecution() returned nil")
	}
}

func TestWithSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()

	ran := false
	err := WithSpan(context.Background(), tracer, "op", func(ctx context.Context, span trace.Span) error {
		ran = true
		return nil
	})
	_ = err
	if !ran {
		t.Error("WithSpan did not invoke fn")
	}
}

func TestWithSpanPropagatesError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()

	want := errors.New("boom")
	err := WithSpan(context.Background(), tracer, "op", func(ctx context.Context, span trace.Span) error {
		return want
	})
	if err != want {
		t.Errorf("WithSpan() error = %v, want %v", err, want)
	}
}

func TestGetTraceID(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() with no span = %q, want empty", id)
	}

	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "pi"})
	defer func() { _ = shutdown(context.Background()) }()
	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()
	// The default no-op tracer produces an invalid span context, so this
	// still returns "" — GetTraceID only needs to not panic here.
	_ = GetTraceID(ctx)
}

func TestGetSpanID(t *testing.T) {
	if id := GetSpanID(context.Background()); id != "" {
		t.Errorf("GetSpanID() with no span = %q, want empty", id)
	}
}
