// Package observability provides the Prometheus metrics and OpenTelemetry
// spans wired into the turn loop (C7) and protocol server (C11): provider
// request/cost accounting, tool dispatch outcomes, and spans around turns
// and RPC frame dispatch.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus counters/histograms for the agent turn loop:
// provider request latency and token usage, tool dispatch outcomes, run
// cost, and retry attempts.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	// ... call provider ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
type Metrics struct {
	// LLMRequestDuration measures provider request latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider requests.
	// Labels: provider, model, status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion).
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks accumulated estimated cost.
	// Labels: provider, model.
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool dispatches.
	// Labels: tool_name, status (success|error).
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool dispatch latency in seconds.
	// Labels: tool_name.
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (provider|tool|session), error_type.
	ErrorCounter *prometheus.CounterVec

	// RunAttempts counts run attempts by outcome (for retry/failover
	// observability alongside C1/C4's in-process retry logic).
	// Labels: status (success|retry|failed).
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pi_llm_request_duration_seconds",
				Help:    "Duration of provider chat requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pi_llm_requests_total",
				Help: "Total provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pi_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pi_llm_cost_usd_total",
				Help: "Estimated provider cost in USD",
			},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pi_tool_executions_total",
				Help: "Total tool dispatches by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pi_tool_execution_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pi_errors_total",
				Help: "Total errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pi_run_attempts_total",
				Help: "Total run attempts by outcome",
			},
			[]string{"status"},
		),
	}
}

// RecordLLMRequest records one provider request's status, latency, and
// token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost adds costUSD to the accumulated cost for provider/model.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolExecution records one tool dispatch's status and latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for component/errorType.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordRunAttempt records one run's terminal outcome.
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}
