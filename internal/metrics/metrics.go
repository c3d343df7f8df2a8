// Package metrics provides pipeline counters and histograms registered with
// the default Prometheus registry. They are exported on /metrics by the
// serve command.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "openclaw_briefing"

// Pipeline metrics.
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by run type and terminal status",
		},
		[]string{"run_type", "status"},
	)

	StagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_total",
			Help:      "Pipeline stages by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	BatchUsers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_users_total",
			Help:      "Users processed by the batch driver by result status",
		},
		[]string{"status"},
	)
)

// Ingestion metrics.
var (
	SignalsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_ingested_total",
			Help:      "Signals attributed to users by source adapter",
		},
		[]string{"source"},
	)

	SignalsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_deduplicated_total",
			Help:      "Polled signals that matched an existing signal",
		},
		[]string{"source"},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Source adapter failures",
		},
		[]string{"source"},
	)
)

// Model and knowledge metrics.
var (
	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Language model tokens by component and type",
		},
		[]string{"component", "type"}, // type: prompt, completion
	)

	AgentToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tool_calls_total",
			Help:      "Scoring agent tool invocations",
		},
		[]string{"tool"},
	)

	ComposerFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "composer_fallbacks_total",
			Help:      "Compositions that fell back to deterministic items",
		},
	)

	EntitiesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_entities_pruned_total",
			Help:      "Knowledge entities removed by pruning",
		},
	)

	EntitiesReinforced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_entities_reinforced_total",
			Help:      "Knowledge entity reinforcements, including inserts",
		},
	)
)

// AddTokens records prompt and completion tokens for a component.
func AddTokens(component string, prompt, completion int64) {
	LLMTokens.WithLabelValues(component, "prompt").Add(float64(prompt))
	LLMTokens.WithLabelValues(component, "completion").Add(float64(completion))
}
