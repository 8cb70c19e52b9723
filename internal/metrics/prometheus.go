package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rc_assistant_chat_duration_seconds",
			Help:    "Chat request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_assistant_chat_total",
			Help: "Total number of chat requests by outcome",
		},
		[]string{"mode", "status"},
	)

	StreamedChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rc_assistant_streamed_chunks_total",
			Help: "Total answer chunks forwarded to clients",
		},
	)

	PersistenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_assistant_persistence_failures_total",
			Help: "Chat messages that could not be persisted",
		},
		[]string{"role"},
	)

	IntentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_assistant_intent_total",
			Help: "Classified query intents",
		},
		[]string{"intent", "confidence"},
	)

	KnowledgeResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rc_assistant_knowledge_results_count",
			Help:    "Number of knowledge entries used per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	ReferenceLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_assistant_reference_lookups_total",
			Help: "Reference cache lookups by cache and outcome",
		},
		[]string{"cache", "outcome"},
	)

	ReferenceLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_assistant_reference_loads_total",
			Help: "Reference cache bulk loads by cache and status",
		},
		[]string{"cache", "status"},
	)

	ReferenceRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rc_assistant_reference_records",
			Help: "Records held by each reference cache",
		},
		[]string{"cache"},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_assistant_tool_calls_total",
			Help: "Generation tool calls by tool and status",
		},
		[]string{"tool", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_assistant_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rc_assistant_llm_breaker_state",
			Help: "LLM circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(ChatDuration)
	prometheus.MustRegister(ChatTotal)
	prometheus.MustRegister(StreamedChunks)
	prometheus.MustRegister(PersistenceFailures)
	prometheus.MustRegister(IntentTotal)
	prometheus.MustRegister(KnowledgeResultsCount)
	prometheus.MustRegister(ReferenceLookups)
	prometheus.MustRegister(ReferenceLoads)
	prometheus.MustRegister(ReferenceRecords)
	prometheus.MustRegister(ToolCalls)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(LLMBreakerState)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
