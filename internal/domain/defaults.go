package domain

// KeyPrefix namespaces every key voicerag writes to Redis.
const KeyPrefix = "voicerag:"

// Defaults shared by config, ingestion and the query pipeline.
const (
	DefaultCollectionName = "voice-rag-agent"
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
	DefaultSearchLimit    = 3

	// DimensionSampleText is embedded once at start-up to learn the model's output dimension.
	DimensionSampleText = "test"
)
