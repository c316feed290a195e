package voicerag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/audio"
	dbRedis "github.com/kailas-cloud/voicerag/internal/db/redis"
	"github.com/kailas-cloud/voicerag/internal/domain"
	openaiTransport "github.com/kailas-cloud/voicerag/internal/transport/openai"
	budgetuc "github.com/kailas-cloud/voicerag/internal/usecase/budget"
	embeddinguc "github.com/kailas-cloud/voicerag/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/voicerag/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/voicerag/internal/usecase/ingest"
	queryuc "github.com/kailas-cloud/voicerag/internal/usecase/query"
	usageuc "github.com/kailas-cloud/voicerag/internal/usecase/usage"
	"github.com/kailas-cloud/voicerag/internal/vectorstore"
	"github.com/kailas-cloud/voicerag/internal/vectorstore/memory"
	"github.com/kailas-cloud/voicerag/internal/vectorstore/qdrant"
	vsRedis "github.com/kailas-cloud/voicerag/internal/vectorstore/redis"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultGenerationModel  = "gpt-4o"
	defaultSpeechModel      = "gpt-4o-mini-tts"
)

// Internal interfaces so tests can substitute services.
type queryUseCase interface {
	Process(ctx context.Context, q string, voice domain.Voice) domain.QueryResult
}

type ingestUseCase interface {
	IngestPDF(ctx context.Context, fileName string, data []byte) (ingestuc.Report, error)
	Processed() []string
}

type artifactReader interface {
	Open(ctx context.Context, id string) (io.ReadCloser, domain.Artifact, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type usageReporter interface {
	GetReport(ctx context.Context, period usageuc.Period) usageuc.Report
}

// artifactStore is written by the pipeline and read by OpenAudio.
type artifactStore interface {
	queryuc.ArtifactStore
	artifactReader
}

// Client is the voicerag SDK entry point.
type Client struct {
	vectors   pinger
	query     queryUseCase
	ingest    ingestUseCase
	artifacts artifactReader
	health    healthUseCase
	usage     usageReporter
	obs       *observer
	closers   []func()
}

// New creates a Client, connects to the vector backend and ensures the collection exists.
// The provided context bounds the start-up calls.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		embeddingModel:  defaultEmbeddingModel,
		generationModel: defaultGenerationModel,
		speechModel:     defaultSpeechModel,
		collection:      domain.DefaultCollectionName,
		chunkSize:       domain.DefaultChunkSize,
		chunkOverlap:    domain.DefaultChunkOverlap,
		artifactDir:     filepath.Join(os.TempDir(), "voicerag"),
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.apiKey == "" && (cfg.embedder == nil || cfg.answer == nil || cfg.speech == nil) {
		return nil, fmt.Errorf("voicerag: OpenAI API key required (use WithOpenAI): %w", ErrConfiguration)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	c := &Client{obs: obs}
	if err := c.wire(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

//nolint:gocyclo // linear wiring
func (c *Client) wire(ctx context.Context, cfg *clientConfig) error {
	backend, err := c.createBackend(ctx, cfg)
	if err != nil {
		return err
	}

	oa := openaiTransport.NewClient(openaiTransport.ClientConfig{APIKey: cfg.apiKey, BaseURL: cfg.baseURL})
	logger := zap.NewNop()

	action := budgetuc.ActionWarn
	if cfg.budgetReject {
		action = budgetuc.ActionReject
	}
	ledger := budgetuc.New(cfg.budgets, action, logger)

	provider := "openai"
	var embedder domain.Embedder
	if cfg.embedder != nil {
		provider = "custom"
		embedder = &embedderAdapter{inner: cfg.embedder}
	} else {
		embedder = openaiTransport.NewEmbedder(oa, openaiTransport.EmbedderConfig{
			Model:    cfg.embeddingModel,
			Provider: provider,
		})
	}
	var embeddingCheck healthuc.EmbeddingChecker
	if hc, ok := embedder.(domain.HealthChecker); ok {
		embeddingCheck = hc
	}
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, provider, cfg.embeddingModel, ledger, logger)

	vectors := vectorstore.New(backend, embedder)
	col, err := vectors.EnsureCollection(ctx, cfg.collection)
	if err != nil {
		return fmt.Errorf("voicerag: ensure collection: %w", err)
	}

	answer, director, speech := cfg.answer, cfg.director, cfg.speech
	if answer == nil {
		answer = openaiTransport.NewGenerator(oa, openaiTransport.GeneratorConfig{
			Model:  cfg.generationModel,
			Role:   openaiTransport.RoleAnswer,
			Budget: ledger,
		})
	}
	if director == nil {
		director = openaiTransport.NewGenerator(oa, openaiTransport.GeneratorConfig{
			Model:  cfg.generationModel,
			Role:   openaiTransport.RoleDirector,
			Budget: ledger,
		})
	}
	if speech == nil {
		speech = openaiTransport.NewSynthesizer(oa, openaiTransport.SynthesizerConfig{
			Model:  cfg.speechModel,
			Budget: ledger,
		})
	}

	var player queryuc.Player = audio.DiscardPlayer{}
	if len(cfg.playbackCommand) > 0 {
		cp, err := audio.NewCommandPlayer(cfg.playbackCommand, logger)
		if err != nil {
			return fmt.Errorf("voicerag: playback: %w", err)
		}
		player = cp
	}

	artifacts, err := createArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}

	voice, err := domain.ParseVoice(cfg.defaultVoice)
	if err != nil {
		return fmt.Errorf("voicerag: default voice: %w", err)
	}
	mode := queryuc.ArtifactResynthesize
	if cfg.capture {
		mode = queryuc.ArtifactCapture
	}

	splitter, err := ingestuc.NewSplitter(cfg.chunkSize, cfg.chunkOverlap)
	if err != nil {
		return fmt.Errorf("voicerag: %w", err)
	}

	c.vectors = vectors
	c.query = queryuc.New(vectors, answer, director, speech, player, artifacts, queryuc.Config{
		Collection:   col,
		SearchLimit:  cfg.searchLimit,
		DefaultVoice: voice,
		ArtifactMode: mode,
	})
	c.ingest = ingestuc.New(vectors, col, splitter, logger)
	c.artifacts = artifacts
	c.usage = usageuc.New(ledger)
	c.health = healthuc.New(vectors, embeddingCheck)
	return nil
}

func (c *Client) createBackend(ctx context.Context, cfg *clientConfig) (vectorstore.Backend, error) {
	switch cfg.driver {
	case "", "memory":
		return memory.New(), nil
	case "qdrant":
		b, err := qdrant.New(qdrant.Config{URL: cfg.addr, APIKey: cfg.password})
		if err != nil {
			return nil, fmt.Errorf("voicerag: create qdrant client: %w", err)
		}
		c.closers = append(c.closers, func() { _ = b.Close() })
		return b, nil
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{Addrs: []string{cfg.addr}, Password: cfg.password})
		if err != nil {
			return nil, fmt.Errorf("voicerag: create redis store: %w", err)
		}
		c.closers = append(c.closers, s.Close)
		if err := s.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			return nil, fmt.Errorf("voicerag: redis not ready: %w", err)
		}
		return vsRedis.New(s, vsRedis.IndexParams{}), nil
	default:
		return nil, fmt.Errorf("voicerag: unknown driver %q", cfg.driver)
	}
}

func createArtifactStore(ctx context.Context, cfg *clientConfig) (artifactStore, error) {
	if cfg.s3 != nil {
		s, err := audio.NewS3Store(ctx, audio.S3Config{
			Bucket: cfg.s3.bucket,
			Region: cfg.s3.region,
			Prefix: cfg.s3.prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("voicerag: s3 artifacts: %w", err)
		}
		return s, nil
	}
	s, err := audio.NewLocalStore(cfg.artifactDir)
	if err != nil {
		return nil, fmt.Errorf("voicerag: local artifacts: %w", err)
	}
	return s, nil
}

// Close releases all resources.
func (c *Client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Ping checks vector backend connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.vectors.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Ingest indexes a PDF under fileName. A name seen before is reported as Skipped.
func (c *Client) Ingest(ctx context.Context, fileName string, data []byte) (_ IngestReport, err error) {
	start := time.Now()
	defer func() { c.obs.observe("ingest", start, err, "file", fileName) }()

	rep, err := c.ingest.IngestPDF(ctx, fileName, data)
	if err != nil {
		return IngestReport{}, fmt.Errorf("ingest: %w", err)
	}
	return IngestReport{
		FileName: rep.FileName,
		Pages:    rep.Pages,
		Chunks:   rep.Chunks,
		Skipped:  rep.Skipped,
	}, nil
}

// IngestFile reads a PDF from disk and ingests it under its base name.
func (c *Client) IngestFile(ctx context.Context, path string) (IngestReport, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return IngestReport{}, fmt.Errorf("read %s: %w", path, err)
	}
	return c.Ingest(ctx, filepath.Base(path), data)
}

// Documents lists ingested file names in ingestion order.
func (c *Client) Documents() []string {
	return c.ingest.Processed()
}

// Ask answers question in voice. Empty voice uses the client default.
// Pipeline failures return a *QueryError that unwraps to the matching sentinel.
func (c *Client) Ask(ctx context.Context, question, voice string) (_ Answer, err error) {
	start := time.Now()
	defer func() { c.obs.observe("ask", start, err) }()

	var v domain.Voice
	if voice != "" {
		if v, err = domain.ParseVoice(voice); err != nil {
			return Answer{}, fmt.Errorf("ask: %w", err)
		}
	}

	res := c.query.Process(ctx, question, v)
	if !res.Succeeded() {
		return Answer{}, &QueryError{Kind: string(res.ErrorKind), Message: res.Error}
	}
	return answerFromResult(&res), nil
}

// OpenAudio opens a saved answer. The caller must close the reader.
func (c *Client) OpenAudio(ctx context.Context, id string) (io.ReadCloser, *Artifact, error) {
	body, art, err := c.artifacts.Open(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			return nil, nil, fmt.Errorf("audio %s: %w", id, ErrArtifactNotFound)
		}
		return nil, nil, fmt.Errorf("open audio: %w", err)
	}
	return body, artifactFromDomain(art), nil
}

// Usage reports consumption of every meter for period "day" or "month".
// Empty period means month.
func (c *Client) Usage(ctx context.Context, period string) (UsageReport, error) {
	p, err := usageuc.ParsePeriod(period)
	if err != nil {
		return UsageReport{}, fmt.Errorf("usage: %w: %w", ErrConfiguration, err)
	}
	return usageFromReport(c.usage.GetReport(ctx, p)), nil
}
