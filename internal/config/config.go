package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// Config holds the voicerag API configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Generation  GenerationConfig  `yaml:"generation"`
	Speech      SpeechConfig      `yaml:"speech"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Qdrant      QdrantConfig      `yaml:"qdrant"`
	Database    DatabaseConfig    `yaml:"database"`
	Index       IndexConfig       `yaml:"index"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
	Playback    PlaybackConfig    `yaml:"playback"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Budget      BudgetConfig      `yaml:"budget"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxUploadBytes  int64 `yaml:"max_upload_bytes"`
}

// OpenAIConfig holds credentials shared by embedding, chat and speech.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Provider            string      `yaml:"provider"`
	Model               string      `yaml:"model"`
	Dimensions          int         `yaml:"dimensions"` // 0 = model default
	DocumentInstruction string      `yaml:"document_instruction"`
	QueryInstruction    string      `yaml:"query_instruction"`
	Cache               CacheConfig `yaml:"cache"`
}

// CacheConfig selects the embedding cache.
type CacheConfig struct {
	Driver string `yaml:"driver"` // redis, memory, none (default: memory)
	Size   int    `yaml:"size"`   // entries for the memory driver
}

// BudgetConfig caps provider consumption per meter, per UTC day and month.
type BudgetConfig struct {
	Action           string       `yaml:"action"` // "reject" | "warn" (default)
	EmbeddingTokens  BudgetLimits `yaml:"embedding_tokens"`
	GenerationTokens BudgetLimits `yaml:"generation_tokens"`
	SpeechChars      BudgetLimits `yaml:"speech_chars"`
}

// BudgetLimits caps one meter. 0 = unlimited.
type BudgetLimits struct {
	Daily   int64 `yaml:"daily"`
	Monthly int64 `yaml:"monthly"`
}

// Limits returns the caps keyed by meter.
func (b BudgetConfig) Limits() map[domain.Meter]BudgetLimits {
	return map[domain.Meter]BudgetLimits{
		domain.MeterEmbeddingTokens:  b.EmbeddingTokens,
		domain.MeterGenerationTokens: b.GenerationTokens,
		domain.MeterSpeechChars:      b.SpeechChars,
	}
}

// Enabled reports whether any meter is capped.
func (b BudgetConfig) Enabled() bool {
	for _, l := range b.Limits() {
		if l.Daily > 0 || l.Monthly > 0 {
			return true
		}
	}
	return false
}

// GenerationConfig holds answer generator and voice director settings.
type GenerationConfig struct {
	Model          string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	AnswerPrompt   string  `yaml:"answer_prompt"`
	DirectorPrompt string  `yaml:"director_prompt"`
	TimeoutSec     int     `yaml:"timeout_sec"`
}

// SpeechConfig holds speech synthesis settings.
type SpeechConfig struct {
	Model        string  `yaml:"model"`
	DefaultVoice string  `yaml:"default_voice"`
	Speed        float64 `yaml:"speed"`
	ArtifactMode string  `yaml:"artifact_mode"` // resynthesize (default), capture
	TimeoutSec   int     `yaml:"timeout_sec"`
}

// VectorStoreConfig selects the vector backend.
type VectorStoreConfig struct {
	Driver      string `yaml:"driver"` // qdrant, redis, memory (default: qdrant)
	Collection  string `yaml:"collection"`
	SearchLimit int    `yaml:"search_limit"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	URL            string `yaml:"url"` // host:port of the gRPC endpoint, optionally with scheme
	APIKey         string `yaml:"api_key"`
	UseTLS         bool   `yaml:"use_tls"`
	AllowAnonymous bool   `yaml:"allow_anonymous"`
	TimeoutSec     int    `yaml:"timeout_sec"`
}

// DatabaseConfig holds Redis connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds HNSW settings for the Redis vector backend.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
}

// IngestConfig holds chunking settings.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// ArtifactsConfig selects where synthesized audio is kept.
type ArtifactsConfig struct {
	Driver string   `yaml:"driver"` // local (default), s3
	Dir    string   `yaml:"dir"`    // local driver; default os.TempDir()
	S3     S3Config `yaml:"s3"`
}

// S3Config holds S3 artifact store settings.
type S3Config struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	AccessKeyID    string `yaml:"access_key_id"`
	SecretKey      string `yaml:"secret_access_key"`
}

// PlaybackConfig configures live audio playback.
// Empty Command discards the live stream.
type PlaybackConfig struct {
	Command []string `yaml:"command"`
}

// RateLimitConfig bounds query admission. Zero RPS disables the limiter.
type RateLimitConfig struct {
	QueriesPerSecond float64 `yaml:"queries_per_second"`
	Burst            int     `yaml:"burst"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
//
//nolint:gocyclo // flat list of defaults
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120 // synthesis streams for the whole answer
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		c.HTTP.MaxUploadBytes = 32 << 20
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Cache.Driver == "" {
		c.Embedding.Cache.Driver = "memory"
	}
	if c.Embedding.Cache.Size <= 0 {
		c.Embedding.Cache.Size = 4096
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-4o"
	}
	if c.Generation.TimeoutSec <= 0 {
		c.Generation.TimeoutSec = 60
	}
	if c.Speech.Model == "" {
		c.Speech.Model = "gpt-4o-mini-tts"
	}
	if c.Speech.DefaultVoice == "" {
		c.Speech.DefaultVoice = string(domain.DefaultVoice)
	}
	if c.Speech.ArtifactMode == "" {
		c.Speech.ArtifactMode = "resynthesize"
	}
	if c.Speech.TimeoutSec <= 0 {
		c.Speech.TimeoutSec = 90
	}
	if c.VectorStore.Driver == "" {
		c.VectorStore.Driver = "qdrant"
	}
	if c.VectorStore.Collection == "" {
		c.VectorStore.Collection = domain.DefaultCollectionName
	}
	if c.VectorStore.SearchLimit <= 0 {
		c.VectorStore.SearchLimit = domain.DefaultSearchLimit
	}
	if c.Qdrant.TimeoutSec <= 0 {
		c.Qdrant.TimeoutSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = domain.DefaultChunkSize
	}
	if c.Ingest.ChunkOverlap <= 0 {
		c.Ingest.ChunkOverlap = domain.DefaultChunkOverlap
	}
	if c.Artifacts.Driver == "" {
		c.Artifacts.Driver = "local"
	}
	if c.Artifacts.Driver == "local" && c.Artifacts.Dir == "" {
		c.Artifacts.Dir = os.TempDir()
	}
	if c.RateLimit.QueriesPerSecond > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
}

// Validate checks the configuration for correctness.
// Missing credentials are reported as domain.ErrConfiguration.
//
//nolint:gocyclo // one branch per setting
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required: %w", domain.ErrConfiguration)
	}
	if _, err := domain.ParseVoice(c.Speech.DefaultVoice); err != nil {
		return fmt.Errorf("speech.default_voice: %w", err)
	}
	switch c.Speech.ArtifactMode {
	case "resynthesize", "capture":
	default:
		return fmt.Errorf("speech.artifact_mode must be \"resynthesize\" or \"capture\", got %q", c.Speech.ArtifactMode)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be less than chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}

	switch c.VectorStore.Driver {
	case "qdrant":
		if c.Qdrant.URL == "" {
			return fmt.Errorf("qdrant.url is required: %w", domain.ErrConfiguration)
		}
		if c.Qdrant.APIKey == "" && !c.Qdrant.AllowAnonymous {
			return fmt.Errorf("qdrant.api_key is required: %w", domain.ErrConfiguration)
		}
	case "redis", "memory":
	default:
		return fmt.Errorf("vector_store.driver must be qdrant, redis or memory, got %q", c.VectorStore.Driver)
	}

	switch c.Embedding.Cache.Driver {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf("embedding.cache.driver must be redis, memory or none, got %q", c.Embedding.Cache.Driver)
	}
	if c.NeedsRedis() && len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required: %w", domain.ErrConfiguration)
	}

	switch c.Budget.Action {
	case "", "warn", "reject":
	default:
		return fmt.Errorf("budget.action must be \"warn\" or \"reject\", got %q", c.Budget.Action)
	}
	for m, l := range c.Budget.Limits() {
		if l.Daily < 0 || l.Monthly < 0 {
			return fmt.Errorf("budget.%s limits must not be negative", m)
		}
	}

	switch c.Artifacts.Driver {
	case "local":
	case "s3":
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("artifacts.s3.bucket is required: %w", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("artifacts.driver must be local or s3, got %q", c.Artifacts.Driver)
	}

	if c.RateLimit.QueriesPerSecond < 0 {
		return fmt.Errorf("rate_limit.queries_per_second must not be negative")
	}
	return nil
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c *Config) NeedsRedis() bool {
	return c.VectorStore.Driver == "redis" || c.Embedding.Cache.Driver == "redis"
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
