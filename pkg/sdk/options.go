package voicerag

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/voicerag/internal/domain"
	budgetuc "github.com/kailas-cloud/voicerag/internal/usecase/budget"
	queryuc "github.com/kailas-cloud/voicerag/internal/usecase/query"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	apiKey  string
	baseURL string

	embeddingModel  string
	generationModel string
	speechModel     string
	embedder        Embedder

	driver     string // "memory", "qdrant" or "redis"
	addr       string
	password   string
	collection string

	searchLimit  int
	chunkSize    int
	chunkOverlap int
	defaultVoice string
	capture      bool

	playbackCommand []string
	artifactDir     string
	s3              *s3Options

	budgets      map[domain.Meter]budgetuc.Limits
	budgetReject bool

	logger     *slog.Logger
	metricsReg prometheus.Registerer

	// Set only by tests to run without OpenAI.
	answer, director queryuc.Generator
	speech           queryuc.Synthesizer
}

type s3Options struct {
	bucket, region, prefix string
}

// WithOpenAI sets the API key shared by embedding, chat and speech.
func WithOpenAI(apiKey string) Option {
	return optionFunc(func(c *clientConfig) {
		c.apiKey = apiKey
	})
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return optionFunc(func(c *clientConfig) {
		c.baseURL = url
	})
}

// WithModels overrides the embedding, chat and speech models. Empty values keep defaults.
func WithModels(embedding, generation, speech string) Option {
	return optionFunc(func(c *clientConfig) {
		if embedding != "" {
			c.embeddingModel = embedding
		}
		if generation != "" {
			c.generationModel = generation
		}
		if speech != "" {
			c.speechModel = speech
		}
	})
}

// WithEmbedder replaces the OpenAI embedder.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithQdrant stores documents in Qdrant. addr is the gRPC host:port.
func WithQdrant(addr, apiKey string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "qdrant"
		c.addr = addr
		c.password = apiKey
	})
}

// WithRedis stores documents in a Redis 8 vector index.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addr = addr
		c.password = password
	})
}

// WithCollection sets the collection name. Default: voice-rag-agent.
func WithCollection(name string) Option {
	return optionFunc(func(c *clientConfig) {
		c.collection = name
	})
}

// WithSearchLimit sets how many chunks ground each answer. Default: 3.
func WithSearchLimit(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.searchLimit = n
	})
}

// WithChunking sets the splitter chunk size and overlap in characters.
// Defaults: 1000 and 200.
func WithChunking(size, overlap int) Option {
	return optionFunc(func(c *clientConfig) {
		c.chunkSize = size
		c.chunkOverlap = overlap
	})
}

// WithDefaultVoice sets the voice used when Ask gets an empty one. Default: coral.
func WithDefaultVoice(voice string) Option {
	return optionFunc(func(c *clientConfig) {
		c.defaultVoice = voice
	})
}

// WithCapture saves the live PCM stream instead of synthesizing a second MP3 copy.
func WithCapture() Option {
	return optionFunc(func(c *clientConfig) {
		c.capture = true
	})
}

// WithPlaybackCommand plays answers through an external process reading raw PCM on stdin.
// Without it the live stream is discarded.
func WithPlaybackCommand(argv ...string) Option {
	return optionFunc(func(c *clientConfig) {
		c.playbackCommand = argv
	})
}

// WithArtifactDir keeps audio files in dir. Default: os.TempDir().
func WithArtifactDir(dir string) Option {
	return optionFunc(func(c *clientConfig) {
		c.artifactDir = dir
	})
}

// WithS3Artifacts keeps audio in an S3 bucket. Credentials come from the default AWS chain.
func WithS3Artifacts(bucket, region, prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.s3 = &s3Options{bucket: bucket, region: region, prefix: prefix}
	})
}

// WithBudget caps a meter per UTC day and month. Zero means unlimited.
// Over-budget calls are logged unless WithBudgetRejection is set.
func WithBudget(meter string, daily, monthly int64) Option {
	return optionFunc(func(c *clientConfig) {
		if c.budgets == nil {
			c.budgets = make(map[domain.Meter]budgetuc.Limits)
		}
		c.budgets[domain.Meter(meter)] = budgetuc.Limits{Daily: daily, Monthly: monthly}
	})
}

// WithBudgetRejection fails provider calls once their meter is over budget.
// Ingest then fails with ErrBudgetExceeded; Ask reports the failing stage.
func WithBudgetRejection() Option {
	return optionFunc(func(c *clientConfig) {
		c.budgetReject = true
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
