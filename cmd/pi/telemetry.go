package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pi-run/pi/internal/agent/turn"
	"github.com/pi-run/pi/internal/audit"
	"github.com/pi-run/pi/internal/observability"
)

// jsonlSink appends one JSON line per event to an append-only file,
// implementing turn.Sink for --telemetry-log.
type jsonlSink struct {
	mu sync.Mutex
	f  *os.File
}

func newJSONLSink(path string) (*jsonlSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry log: %w", err)
	}
	return &jsonlSink{f: f}, nil
}

func (s *jsonlSink) Emit(ev turn.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = s.f.Write(append(line, '\n'))
}

func (s *jsonlSink) Close() error {
	return s.f.Close()
}

// buildSink resolves --telemetry-log into a turn.Sink, or turn.NopSink when
// unset. The returned closer is nil when no file was opened.
func buildSink(path string) (turn.Sink, *jsonlSink, error) {
	if path == "" {
		return turn.NopSink, nil, nil
	}
	sink, err := newJSONLSink(path)
	if err != nil {
		return nil, nil, err
	}
	return sink, sink, nil
}

// buildAuditor resolves --tool-audit-log into a tools.Auditor backed by
// internal/audit.Logger, or nil when unset (Dispatch tolerates a nil
// Auditor by skipping the audit trail).
func buildAuditor(path string) (*audit.Logger, error) {
	if path == "" {
		return nil, nil
	}
	return audit.NewLogger(audit.Config{
		Enabled: true,
		Level:   audit.LevelInfo,
		Format:  audit.FormatJSON,
		Output:  "file:" + path,
	})
}

// buildMetrics resolves --metrics into an observability.Metrics registered
// with the default Prometheus registry, or nil when disabled.
func buildMetrics(f *runtimeFlags) *observability.Metrics {
	if !f.metricsEnabled {
		return nil
	}
	return observability.NewMetrics()
}

// startMetricsServer mounts promhttp.Handler() on --metrics-addr, mirroring
// the teacher's gateway HTTP server's /metrics route. Returns nil when
// metrics are disabled; the caller is responsible for shutting the server
// down (or simply letting it die with the process on exit).
func startMetricsServer(f *runtimeFlags) *http.Server {
	if !f.metricsEnabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: f.metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server", "error", err)
		}
	}()
	return srv
}

// buildTracer resolves --otel-endpoint/--otel-insecure into an
// observability.Tracer and its shutdown func. With no endpoint configured
// (flag or $PI_OTEL_ENDPOINT), NewTracer itself returns a no-op tracer, so
// this is always safe to wire into Loop/Server.
func buildTracer(f *runtimeFlags) (*observability.Tracer, func(context.Context) error) {
	endpoint := f.otelEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("PI_OTEL_ENDPOINT")
	}
	return observability.NewTracer(observability.TraceConfig{
		ServiceName:    "pi",
		Endpoint:       endpoint,
		EnableInsecure: f.otelInsecure,
	})
}
