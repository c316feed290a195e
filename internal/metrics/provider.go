package metrics

import "github.com/prometheus/client_golang/prometheus"

// Provider Prometheus metrics: embedding, chat completion, speech and their budgets.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "embedding_requests_total",
			Help:      "Embedding requests by outcome",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voicerag",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "embedding_tokens_total",
			Help:      "Embedding tokens consumed",
		},
		[]string{"provider", "model", "type"},
	)

	EmbeddingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "embedding_errors_total",
			Help:      "Embedding errors by cause",
		},
		[]string{"provider", "model", "error_type"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "generation_requests_total",
			Help:      "Chat completion requests by role",
		},
		[]string{"role", "model", "status"},
	)

	GenerationTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "generation_tokens_total",
			Help:      "Chat completion tokens consumed",
		},
		[]string{"role", "type"},
	)

	SpeechRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "speech_requests_total",
			Help:      "Speech synthesis requests",
		},
		[]string{"format", "status"},
	)

	SpeechBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "speech_bytes_total",
			Help:      "Audio bytes received from the speech provider",
		},
		[]string{"format"},
	)

	BudgetConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "budget_consumed_total",
			Help:      "Units charged against the provider budget",
		},
		[]string{"meter"},
	)

	BudgetRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "voicerag",
			Name:      "budget_remaining",
			Help:      "Units left in the current period, -1 when unlimited",
		},
		[]string{"meter", "period"},
	)

	BudgetRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "budget_rejections_total",
			Help:      "Provider calls refused by an exhausted budget",
		},
		[]string{"meter"},
	)
)

var providerMetricsRegistered bool

// RegisterProviderMetrics registers Prometheus provider metrics. Must be called once from main.
func RegisterProviderMetrics() {
	if providerMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingTokensTotal,
		EmbeddingErrorsTotal,
		EmbeddingCacheTotal,
		GenerationRequestsTotal,
		GenerationTokensTotal,
		SpeechRequestsTotal,
		SpeechBytesTotal,
		BudgetConsumedTotal,
		BudgetRemaining,
		BudgetRejectionsTotal,
	)
	providerMetricsRegistered = true
}
