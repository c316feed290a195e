package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/audio"
	"github.com/kailas-cloud/voicerag/internal/config"
	dbRedis "github.com/kailas-cloud/voicerag/internal/db/redis"
	"github.com/kailas-cloud/voicerag/internal/domain"
	logpkg "github.com/kailas-cloud/voicerag/internal/logger"
	"github.com/kailas-cloud/voicerag/internal/metrics"
	budgetrepo "github.com/kailas-cloud/voicerag/internal/repository/budget"
	"github.com/kailas-cloud/voicerag/internal/repository/embcache"
	chiTransport "github.com/kailas-cloud/voicerag/internal/transport/chi"
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
	"github.com/kailas-cloud/voicerag/internal/version"
)

//nolint:gocyclo,funlen // composition root
func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting voicerag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("vector_driver", cfg.VectorStore.Driver),
		zap.String("collection", cfg.VectorStore.Collection),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterProviderMetrics()
	metrics.RegisterPipelineMetrics()

	ctx := context.Background()

	var store *dbRedis.Store
	if cfg.NeedsRedis() {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create redis store", zap.Error(err))
		}
		defer store.Close()

		if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Redis not ready", zap.Error(err))
		}
		logger.Info("Connected to redis", zap.Strings("addrs", cfg.Database.Addrs))
	}

	// One ledger meters every provider call and feeds /v1/usage.
	// Meters without a limit are still counted.
	limits := make(map[domain.Meter]budgetuc.Limits, len(domain.Meters()))
	for m, l := range cfg.Budget.Limits() {
		limits[m] = budgetuc.Limits{Daily: l.Daily, Monthly: l.Monthly}
	}
	ledger := budgetuc.New(limits, budgetuc.Action(cfg.Budget.Action), logger)
	if store != nil {
		ledger.WithStore(ctx, budgetrepo.New(store))
	}
	if cfg.Budget.Enabled() {
		logger.Info("Provider budgets enabled", zap.String("action", cfg.Budget.Action))
	}

	generationClient := newOpenAIClient(cfg, cfg.Generation.TimeoutSec)
	speechClient := newOpenAIClient(cfg, cfg.Speech.TimeoutSec)

	cache, err := buildCacheStore(cfg, store)
	if err != nil {
		logger.Fatal("Failed to create embedding cache", zap.Error(err))
	}

	docEmbedder := buildEmbedder(generationClient, cfg, cfg.Embedding.DocumentInstruction, cache, ledger, logger)
	queryEmbedder := buildEmbedder(generationClient, cfg, cfg.Embedding.QueryInstruction, cache, ledger, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.String("cache", cfg.Embedding.Cache.Driver),
	)

	var backend vectorstore.Backend
	switch cfg.VectorStore.Driver {
	case "qdrant":
		qb, err := qdrant.New(qdrant.Config{
			URL:     cfg.Qdrant.URL,
			APIKey:  cfg.Qdrant.APIKey,
			UseTLS:  cfg.Qdrant.UseTLS,
			Timeout: time.Duration(cfg.Qdrant.TimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Fatal("Failed to create qdrant client", zap.Error(err))
		}
		defer func() { _ = qb.Close() }()
		backend = qb
	case "redis":
		backend = vsRedis.New(store, vsRedis.IndexParams{
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
		})
	case "memory":
		logger.Warn("Using in-memory vector store, documents are lost on restart")
		backend = memory.New()
	default:
		logger.Fatal("Unknown vector store driver", zap.String("driver", cfg.VectorStore.Driver))
	}

	vectors := vectorstore.New(backend, docEmbedder,
		vectorstore.WithQueryEmbedder(queryEmbedder),
		vectorstore.WithLogger(logger),
	)

	collection, err := vectors.EnsureCollection(ctx, cfg.VectorStore.Collection)
	if err != nil {
		logger.Fatal("Failed to ensure collection", zap.Error(err))
	}
	logger.Info("Collection ready",
		zap.String("collection", collection.Name),
		zap.Int("dimension", collection.Dimension),
	)

	answer := openaiTransport.NewGenerator(generationClient, openaiTransport.GeneratorConfig{
		Model:        cfg.Generation.Model,
		Role:         openaiTransport.RoleAnswer,
		SystemPrompt: cfg.Generation.AnswerPrompt,
		Temperature:  cfg.Generation.Temperature,
		Budget:       ledger,
		Logger:       logger,
	})
	director := openaiTransport.NewGenerator(generationClient, openaiTransport.GeneratorConfig{
		Model:        cfg.Generation.Model,
		Role:         openaiTransport.RoleDirector,
		SystemPrompt: cfg.Generation.DirectorPrompt,
		Temperature:  cfg.Generation.Temperature,
		Budget:       ledger,
		Logger:       logger,
	})
	speech := openaiTransport.NewSynthesizer(speechClient, openaiTransport.SynthesizerConfig{
		Model:  cfg.Speech.Model,
		Speed:  cfg.Speech.Speed,
		Budget: ledger,
		Logger: logger,
	})

	var player queryuc.Player = audio.DiscardPlayer{}
	if len(cfg.Playback.Command) > 0 {
		cp, err := audio.NewCommandPlayer(cfg.Playback.Command, logger)
		if err != nil {
			logger.Fatal("Failed to create audio player", zap.Error(err))
		}
		player = cp
	}

	artifacts, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to create artifact store", zap.Error(err))
	}

	querySvc := queryuc.New(vectors, answer, director, speech, player, artifacts,
		queryuc.Config{
			Collection:   collection,
			SearchLimit:  cfg.VectorStore.SearchLimit,
			DefaultVoice: domain.Voice(cfg.Speech.DefaultVoice),
			ArtifactMode: queryuc.ArtifactMode(cfg.Speech.ArtifactMode),
		},
		queryuc.WithLogger(logger),
		queryuc.WithStageObserver(func(s queryuc.Stage) {
			logger.Debug("Query stage", zap.String("stage", s.String()))
		}),
	)

	splitter, err := ingestuc.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		logger.Fatal("Invalid chunking settings", zap.Error(err))
	}
	ingestSvc := ingestuc.New(vectors, collection, splitter, logger)

	var healthOpts []healthuc.Option
	if store != nil {
		healthOpts = append(healthOpts, healthuc.WithCheck("redis", store.Ping))
	}
	healthSvc := healthuc.New(vectors, newEmbeddingHealthChecker(docEmbedder), healthOpts...)

	usageSvc := usageuc.New(ledger)

	server := chiTransport.NewServer(querySvc, ingestSvc, artifacts, healthSvc, usageSvc, chiTransport.Options{
		DefaultVoice:   domain.Voice(cfg.Speech.DefaultVoice),
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r, chiTransport.RateLimitMiddleware(cfg.RateLimit.QueriesPerSecond, cfg.RateLimit.Burst))

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "voicerag"),
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// newOpenAIClient creates a traced client. timeoutSec bounds the whole call including the body.
func newOpenAIClient(cfg config.Config, timeoutSec int) *openai.Client {
	return openaiTransport.NewClient(openaiTransport.ClientConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   time.Duration(timeoutSec) * time.Second,
		},
	})
}

// cacheStore is what embcache needs from either backing store.
type cacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// buildCacheStore returns nil when caching is disabled.
func buildCacheStore(cfg config.Config, store *dbRedis.Store) (cacheStore, error) {
	switch cfg.Embedding.Cache.Driver {
	case "redis":
		return store, nil
	case "memory":
		ms, err := embcache.NewMemoryStore(cfg.Embedding.Cache.Size)
		if err != nil {
			return nil, fmt.Errorf("memory cache: %w", err)
		}
		return ms, nil
	default:
		return nil, nil
	}
}

// artifactStore is written by the orchestrator and read by GET /v1/audio.
type artifactStore interface {
	queryuc.ArtifactStore
	chiTransport.ArtifactReader
}

func buildArtifactStore(ctx context.Context, cfg config.Config) (artifactStore, error) {
	if cfg.Artifacts.Driver == "s3" {
		s3 := cfg.Artifacts.S3
		st, err := audio.NewS3Store(ctx, audio.S3Config{
			Bucket:         s3.Bucket,
			Region:         s3.Region,
			Prefix:         s3.Prefix,
			Endpoint:       s3.Endpoint,
			ForcePathStyle: s3.ForcePathStyle,
			AccessKeyID:    s3.AccessKeyID,
			SecretKey:      s3.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 artifacts: %w", err)
		}
		return st, nil
	}
	st, err := audio.NewLocalStore(cfg.Artifacts.Dir)
	if err != nil {
		return nil, fmt.Errorf("local artifacts: %w", err)
	}
	return st, nil
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func buildEmbedder(
	client *openai.Client,
	cfg config.Config,
	instruction string,
	cache cacheStore,
	budget domain.Budget,
	logger *zap.Logger,
) domain.Embedder {
	emb := cfg.Embedding
	base := openaiTransport.NewEmbedder(client, openaiTransport.EmbedderConfig{
		Model:      emb.Model,
		Dimensions: emb.Dimensions,
		Provider:   emb.Provider,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if cache != nil {
		embedder = embcache.New(base, cache, emb.Model, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, emb.Provider, emb.Model, budget, logger)

	// Instruction prefix (outermost: cache key includes instruction)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.ErrorCodeInternalError,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
				zap.String("embedding_tokens", ww.Header().Get("X-Embedding-Tokens")),
			)
		})
	}
}
