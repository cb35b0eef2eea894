package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// llmCallsTotal counts model calls.
	// Labels: provider (openai, anthropic), operation (classify, optimize, enhance), status (ok, error)
	llmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketbot",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Total LLM calls by provider, operation and status",
	}, []string{"provider", "operation", "status"})

	llmLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ticketbot",
		Subsystem: "llm",
		Name:      "latency_seconds",
		Help:      "LLM call latency including retries",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider", "operation"})

	// searchCallsTotal counts search requests.
	// Labels: stage (primary, fallback), status (ok, error, low_relevance, not_found)
	searchCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketbot",
		Subsystem: "search",
		Name:      "calls_total",
		Help:      "Total search requests by stage and outcome",
	}, []string{"stage", "status"})

	classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketbot",
		Subsystem: "classifier",
		Name:      "results_total",
		Help:      "Classification results by status and topic",
	}, []string{"status", "topic"})

	responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketbot",
		Subsystem: "responder",
		Name:      "responses_total",
		Help:      "Generated final responses by type",
	}, []string{"type"})

	enhancementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketbot",
		Subsystem: "responder",
		Name:      "enhancements_total",
		Help:      "Answer enhancement outcomes by source",
	}, []string{"source"})
)

func RecordLLMCall(provider, operation string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmCallsTotal.WithLabelValues(provider, operation, status).Inc()
	llmLatencySeconds.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

func RecordSearch(stage, status string) {
	searchCallsTotal.WithLabelValues(stage, status).Inc()
}

func RecordClassification(status, topic string) {
	classificationsTotal.WithLabelValues(status, topic).Inc()
}

func RecordResponse(responseType string) {
	responsesTotal.WithLabelValues(responseType).Inc()
}

func RecordEnhancement(source string) {
	enhancementsTotal.WithLabelValues(source).Inc()
}
