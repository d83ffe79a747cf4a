package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting agent runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance, failover, and token/cost accounting
//   - Tool execution patterns and latencies
//   - Error rates categorized by component
//   - Memory summarization and cache behavior
//   - Agent loop step progress and stuck-loop detection
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMFailoverCounter counts failovers from one provider to the next.
	// Labels: from_provider, to_provider, reason
	LLMFailoverCounter *prometheus.CounterVec

	// LLMCacheCounter counts Router cache lookups.
	// Labels: outcome (hit|miss)
	LLMCacheCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolResultTruncated counts tool results that required truncation.
	// Labels: tool_name
	ToolResultTruncated *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (router|memory|dispatcher|loop), error_type
	ErrorCounter *prometheus.CounterVec

	// MemorySummarizations counts memory compaction runs.
	// Labels: outcome (success|fallback)
	MemorySummarizations *prometheus.CounterVec

	// StepDuration measures the wall time of one think-act-critic step.
	StepDuration prometheus.Histogram

	// StepsTaken counts total think steps taken across all runs.
	StepsTaken prometheus.Counter

	// StuckDetections counts stuck-loop detections.
	StuckDetections prometheus.Counter

	// RunOutcomes counts terminal run outcomes.
	// Labels: state (finished|error)
	RunOutcomes *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup; all metrics are
// registered against Prometheus's default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentloop_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		LLMFailoverCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_llm_failovers_total",
				Help: "Total number of provider failovers by source, target, and reason",
			},
			[]string{"from_provider", "to_provider", "reason"},
		),
		LLMCacheCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_llm_cache_total",
				Help: "Router response cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentloop_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"tool_name"},
		),
		ToolResultTruncated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_tool_result_truncations_total",
				Help: "Total number of tool results that required surgical truncation",
			},
			[]string{"tool_name"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
		MemorySummarizations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_memory_summarizations_total",
				Help: "Total number of memory compaction runs by outcome",
			},
			[]string{"outcome"},
		),
		StepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentloop_step_duration_seconds",
				Help:    "Duration of one think-act-critic step in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		StepsTaken: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentloop_steps_total",
				Help: "Total number of think steps taken across all runs",
			},
		),
		StuckDetections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentloop_stuck_detections_total",
				Help: "Total number of stuck-loop detections",
			},
		),
		RunOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_run_outcomes_total",
				Help: "Total number of terminal run outcomes by state",
			},
			[]string{"state"},
		),
	}
}

// RecordLLMRequest records metrics for an LLM API request.
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

// RecordFailover records a provider-to-provider failover.
func (m *Metrics) RecordFailover(fromProvider, toProvider, reason string) {
	m.LLMFailoverCounter.WithLabelValues(fromProvider, toProvider, reason).Inc()
}

// RecordCacheLookup records a Router response cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.LLMCacheCounter.WithLabelValues(outcome).Inc()
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordToolResultTruncated records that a tool result required surgical truncation.
func (m *Metrics) RecordToolResultTruncated(toolName string) {
	m.ToolResultTruncated.WithLabelValues(toolName).Inc()
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordSummarization records a memory compaction run.
func (m *Metrics) RecordSummarization(fellBack bool) {
	outcome := "success"
	if fellBack {
		outcome = "fallback"
	}
	m.MemorySummarizations.WithLabelValues(outcome).Inc()
}

// RecordStep records the completion of one think-act-critic step.
func (m *Metrics) RecordStep(durationSeconds float64) {
	m.StepsTaken.Inc()
	m.StepDuration.Observe(durationSeconds)
}

// RecordStuckDetection records a stuck-loop detection.
func (m *Metrics) RecordStuckDetection() {
	m.StuckDetections.Inc()
}

// RecordRunOutcome records a terminal run outcome.
func (m *Metrics) RecordRunOutcome(state string) {
	m.RunOutcomes.WithLabelValues(state).Inc()
}
