// Package vectorstore owns collection lifecycle, embedding and similarity search
// on top of a pluggable vector backend.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/domain"
	"github.com/kailas-cloud/voicerag/internal/metrics"
)

var tracer = otel.Tracer("github.com/kailas-cloud/voicerag/internal/vectorstore")

// Backend is the storage contract implemented by qdrant, redis and memory.
type Backend interface {
	// CreateCollection returns domain.ErrCollectionExists when the name is taken.
	CreateCollection(ctx context.Context, name string, dim int) error
	// CollectionDimension returns domain.ErrCollectionNotFound for unknown names.
	CollectionDimension(ctx context.Context, name string) (int, error)
	Upsert(ctx context.Context, collection string, point domain.StoredVector) error
	// Search returns at most limit hits, best first.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]domain.SearchHit, error)
	Ping(ctx context.Context) error
}

// Store embeds text and delegates persistence to a Backend.
type Store struct {
	backend       Backend
	docEmbedder   domain.Embedder
	queryEmbedder domain.Embedder
	logger        *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithQueryEmbedder sets a separate embedder for search queries (asymmetric models).
func WithQueryEmbedder(e domain.Embedder) Option {
	return func(s *Store) { s.queryEmbedder = e }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store. embedder is used for the dimension sample, for chunks and, unless overridden, for queries.
func New(backend Backend, embedder domain.Embedder, opts ...Option) *Store {
	s := &Store{
		backend:       backend,
		docEmbedder:   embedder,
		queryEmbedder: embedder,
		logger:        zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnsureCollection embeds the sample text to learn the model dimension and creates the
// collection with cosine distance when absent. An existing collection of a different
// dimension fails with domain.ErrVectorDimMismatch.
func (s *Store) EnsureCollection(ctx context.Context, name string) (domain.Collection, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	sample, err := s.docEmbedder.Embed(ctx, domain.DimensionSampleText)
	if err != nil {
		return domain.Collection{}, fail(span, fmt.Errorf("sample embedding: %w", err))
	}
	dim := len(sample.Embedding)
	if dim == 0 {
		return domain.Collection{}, fail(span, fmt.Errorf("sample embedding is empty: %w", domain.ErrEmbeddingProviderError))
	}

	col := domain.Collection{Name: name, Dimension: dim, Metric: domain.MetricCosine}

	err = s.backend.CreateCollection(ctx, name, dim)
	switch {
	case err == nil:
		s.logger.Info("Collection created", zap.String("collection", name), zap.Int("dimension", dim))
		return col, nil
	case errors.Is(err, domain.ErrCollectionExists):
	default:
		return domain.Collection{}, fail(span, fmt.Errorf("create collection %q: %w", name, err))
	}

	existing, err := s.backend.CollectionDimension(ctx, name)
	if err != nil {
		return domain.Collection{}, fail(span, fmt.Errorf("inspect collection %q: %w", name, err))
	}
	if existing != dim {
		return domain.Collection{}, fail(span, fmt.Errorf("collection %q: %w", name, domain.NewDimensionError(existing, dim)))
	}

	s.logger.Debug("Collection already exists", zap.String("collection", name), zap.Int("dimension", dim))
	return col, nil
}

// Upsert embeds every chunk and writes one point per chunk under a fresh UUID.
// A vector of the wrong length aborts before it is written.
func (s *Store) Upsert(ctx context.Context, col domain.Collection, chunks []domain.DocumentChunk) error {
	ctx, span := tracer.Start(ctx, "vectorstore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", col.Name), attribute.Int("chunks", len(chunks)))

	for i := range chunks {
		res, err := s.docEmbedder.Embed(ctx, chunks[i].Content)
		if err != nil {
			return fail(span, fmt.Errorf("embed chunk %d: %w", i, err))
		}

		point := domain.StoredVector{
			ID:      uuid.New(),
			Vector:  res.Embedding,
			Payload: chunks[i].Payload(),
		}
		if err := point.Validate(col.Dimension); err != nil {
			return fail(span, fmt.Errorf("chunk %d: %w", i, err))
		}

		if err := s.backend.Upsert(ctx, col.Name, point); err != nil {
			return fail(span, fmt.Errorf("upsert chunk %d: %w", i, err))
		}
		metrics.IngestedChunksTotal.WithLabelValues(sourceType(chunks[i])).Inc()
	}

	return nil
}

// Search embeds query once and returns up to limit hits by descending cosine similarity.
// No matches yield an empty slice and a nil error.
func (s *Store) Search(ctx context.Context, col domain.Collection, query string, limit int) ([]domain.SearchHit, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Search")
	defer span.End()

	if limit <= 0 {
		limit = domain.DefaultSearchLimit
	}
	span.SetAttributes(attribute.String("collection", col.Name), attribute.Int("limit", limit))

	res, err := s.queryEmbedder.Embed(ctx, query)
	if err != nil {
		return nil, fail(span, fmt.Errorf("embed query: %w", err))
	}
	if len(res.Embedding) != col.Dimension {
		return nil, fail(span, fmt.Errorf("query vector: %w", domain.NewDimensionError(col.Dimension, len(res.Embedding))))
	}

	hits, err := s.backend.Search(ctx, col.Name, res.Embedding, limit)
	if err != nil {
		return nil, fail(span, fmt.Errorf("search %q: %w", col.Name, err))
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	span.SetAttributes(attribute.Int("hits", len(hits)))
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	return hits, nil
}

// Ping checks backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("vector backend: %w", err)
	}
	return nil
}

func sourceType(c domain.DocumentChunk) string {
	if st, ok := c.Metadata[domain.PayloadSourceType].(string); ok && st != "" {
		return st
	}
	return "unknown"
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
