package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query pipeline Prometheus metrics.
var (
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voicerag",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Query pipeline stage duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage", "status"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "queries_total",
			Help:      "Total queries by outcome",
		},
		[]string{"status", "error_kind"},
	)

	IngestedChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicerag",
			Name:      "ingested_chunks_total",
			Help:      "Chunks written to the vector store",
		},
		[]string{"source_type"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers Prometheus pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(PipelineStageDuration)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(IngestedChunksTotal)
	pipelineMetricsRegistered = true
}
