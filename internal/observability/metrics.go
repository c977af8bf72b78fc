package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central registry of application metrics.
//
// Built on Prometheus, tracking:
//   - inbound/outbound message flow by source
//   - LLM request latency, outcomes, and token usage
//   - tool execution counts and latencies
//   - agent graph node transitions
//   - host API writes and bus deliveries
//   - error rates by component and kind
type Metrics struct {
	// MessageCounter tracks messages by source and direction.
	// Labels: source (telegram|cli|http|internal), direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error|fallback)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (ok|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// GraphNodeCounter counts agent graph node executions.
	// Labels: node (plan|reflect|tool|verify|respond)
	GraphNodeCounter *prometheus.CounterVec

	// HostWriteCounter counts host API mutations.
	// Labels: operation (create|update|upsert|delete), kind, status (ok|error)
	HostWriteCounter *prometheus.CounterVec

	// BusDeliveryCounter counts bus handler deliveries.
	// Labels: topic, status (ok|error|deduped|exhausted)
	BusDeliveryCounter *prometheus.CounterVec

	// SchedulerRunCounter counts scheduled job runs.
	// Labels: job, status (ok|error|missed)
	SchedulerRunCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and kind.
	// Labels: component (agent|host|bus|llm|tool|ingress), kind
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge of live conversation sessions.
	ActiveSessions prometheus.Gauge

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
// Call once at startup; the /metrics endpoint serves the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		MessageCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_messages_total",
				Help: "Total messages processed by source and direction",
			},
			[]string{"source", "direction"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kira_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kira_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 20},
			},
			[]string{"tool"},
		),

		GraphNodeCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_graph_node_executions_total",
				Help: "Total agent graph node executions",
			},
			[]string{"node"},
		),

		HostWriteCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_host_writes_total",
				Help: "Total host API mutations by operation, kind, and status",
			},
			[]string{"operation", "kind", "status"},
		),

		BusDeliveryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_bus_deliveries_total",
				Help: "Total bus handler deliveries by topic and status",
			},
			[]string{"topic", "status"},
		),

		SchedulerRunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_scheduler_runs_total",
				Help: "Total scheduled job runs by job ID and status",
			},
			[]string{"job", "status"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_errors_total",
				Help: "Total errors by component and error kind",
			},
			[]string{"component", "kind"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kira_active_sessions",
				Help: "Current number of live conversation sessions",
			},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kira_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordLLMRequest records one LLM API attempt.
func (m *Metrics) RecordLLMRequest(provider, model, status string, seconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(seconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordHostWrite records one host API mutation.
func (m *Metrics) RecordHostWrite(operation, kind, status string) {
	m.HostWriteCounter.WithLabelValues(operation, kind, status).Inc()
}

// RecordBusDelivery records one bus handler delivery outcome.
func (m *Metrics) RecordBusDelivery(topic, status string) {
	m.BusDeliveryCounter.WithLabelValues(topic, status).Inc()
}

// RecordError increments the error counter for a component and error kind.
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorCounter.WithLabelValues(component, kind).Inc()
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, seconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(seconds)
}
