// Package observability wires structured logging, OpenTelemetry tracing,
// and Prometheus metrics for one orchestrator run, plus a small optional
// HTTP status server for watching a long run without tailing logs.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors scoped to one engine run: task
// execution, LLM calls, tool calls, and gate outcomes. Grouped the same way
// the domain is grouped elsewhere in this codebase (agent/LLM/tool/gate),
// not flattened into one undifferentiated counter set.
type Metrics struct {
	registry *prometheus.Registry

	TasksCompleted *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec

	LLMCalls        *prometheus.CounterVec
	LLMCallDuration *prometheus.HistogramVec
	LLMTokensTotal  *prometheus.CounterVec

	ToolCalls  *prometheus.CounterVec
	ToolErrors *prometheus.CounterVec

	SubExecutorSpawns *prometheus.CounterVec

	GateOutcomes *prometheus.CounterVec
}

// NewMetrics builds and registers every collector against a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "taskengine"
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_completed_total", Help: "Tasks that reached completed status.",
		}, []string{"task_type"}),
		TasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_failed_total", Help: "Tasks that reached failed status.",
		}, []string{"task_type", "category"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds", Help: "Wall time from task dispatch to completion.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"task_type", "profile"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_calls_total", Help: "LLM generation calls.",
		}, []string{"provider", "model"}),
		LLMCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "llm_call_duration_seconds", Help: "LLM call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		LLMTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_tokens_total", Help: "Tokens billed across LLM calls.",
		}, []string{"provider", "model"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_calls_total", Help: "Tool invocations.",
		}, []string{"tool"}),
		ToolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_errors_total", Help: "Tool invocations that returned an error result.",
		}, []string{"tool", "category"}),
		SubExecutorSpawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "subexecutor_spawns_total", Help: "Sub-executor spawns by profile.",
		}, []string{"profile", "outcome"}),
		GateOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gate_outcomes_total", Help: "Pass/fail outcomes for the three orchestrator gates.",
		}, []string{"gate", "outcome"}),
	}

	reg.MustRegister(
		m.TasksCompleted, m.TasksFailed, m.TaskDuration,
		m.LLMCalls, m.LLMCallDuration, m.LLMTokensTotal,
		m.ToolCalls, m.ToolErrors,
		m.SubExecutorSpawns, m.GateOutcomes,
	)
	return m
}

// Handler returns the Prometheus HTTP exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTask(taskType string, profile string, dur time.Duration, succeeded bool, category string) {
	if m == nil {
		return
	}
	m.TaskDuration.WithLabelValues(taskType, profile).Observe(dur.Seconds())
	if succeeded {
		m.TasksCompleted.WithLabelValues(taskType).Inc()
	} else {
		m.TasksFailed.WithLabelValues(taskType, category).Inc()
	}
}

func (m *Metrics) ObserveLLMCall(provider, model string, dur time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(provider, model).Inc()
	m.LLMCallDuration.WithLabelValues(provider, model).Observe(dur.Seconds())
	m.LLMTokensTotal.WithLabelValues(provider, model).Add(float64(tokens))
}

func (m *Metrics) ObserveToolCall(tool string, succeeded bool, category string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool).Inc()
	if !succeeded {
		m.ToolErrors.WithLabelValues(tool, category).Inc()
	}
}

func (m *Metrics) ObserveSubExecutorSpawn(profile string, succeeded bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	m.SubExecutorSpawns.WithLabelValues(profile, outcome).Inc()
}

func (m *Metrics) ObserveGate(gate string, passed bool) {
	if m == nil {
		return
	}
	outcome := "passed"
	if !passed {
		outcome = "failed"
	}
	m.GateOutcomes.WithLabelValues(gate, outcome).Inc()
}
