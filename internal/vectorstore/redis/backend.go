// Package redis stores vectors as hashes indexed by the Redis Query Engine (FT.*).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/voicerag/internal/db"
	dbredis "github.com/kailas-cloud/voicerag/internal/db/redis"
	"github.com/kailas-cloud/voicerag/internal/domain"
)

// Hash fields of a stored point.
const (
	fieldVector   = "vector"
	fieldPayload  = "payload"
	fieldContent  = "content"
	fieldFileName = "file_name"

	metaDimension = "dimension"
	metaMetric    = "metric"
)

// store is the consumer interface for the Redis facade (ISP).
type store interface {
	db.Pinger
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// IndexParams tunes the HNSW graph. Zero values keep server defaults.
type IndexParams struct {
	M           int
	EFConstruct int
}

// Backend implements vectorstore.Backend on Redis 8.
type Backend struct {
	store  store
	params IndexParams
}

// New creates a Redis vector backend.
func New(s store, params IndexParams) *Backend {
	return &Backend{store: s, params: params}
}

// CreateCollection creates the FT index, then records the dimension in a metadata hash.
func (b *Backend) CreateCollection(ctx context.Context, name string, dim int) error {
	meta, err := b.store.HGetAll(ctx, metaKey(name))
	if err != nil {
		return fmt.Errorf("read collection meta: %w", err)
	}
	if len(meta) > 0 {
		return domain.ErrCollectionExists
	}

	def, err := db.NewIndex(indexName(name)).
		Prefix(pointPrefix(name)).
		Tag(fieldFileName).
		Text(fieldContent).
		VectorHNSW(fieldVector, dim, db.DistanceCosine, b.params.M, b.params.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	if err := b.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w", err)
	}

	if err := b.store.HSet(ctx, metaKey(name), map[string]string{
		metaDimension: strconv.Itoa(dim),
		metaMetric:    string(domain.MetricCosine),
	}); err != nil {
		return fmt.Errorf("write collection meta: %w", err)
	}
	return nil
}

// CollectionDimension reads the dimension from the metadata hash.
func (b *Backend) CollectionDimension(ctx context.Context, name string) (int, error) {
	meta, err := b.store.HGetAll(ctx, metaKey(name))
	if err != nil {
		return 0, fmt.Errorf("read collection meta: %w", err)
	}
	if len(meta) == 0 {
		return 0, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	dim, err := strconv.Atoi(meta[metaDimension])
	if err != nil {
		return 0, fmt.Errorf("parse dimension %q: %w", meta[metaDimension], err)
	}
	return dim, nil
}

// Upsert writes the point as one hash: vector blob, JSON payload and indexed copies of content/file_name.
func (b *Backend) Upsert(ctx context.Context, collection string, p domain.StoredVector) error {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	fields := map[string]string{
		fieldVector:  dbredis.VectorToBytes(p.Vector),
		fieldPayload: string(payload),
	}
	if c, ok := p.Payload[domain.PayloadContent].(string); ok {
		fields[fieldContent] = c
	}
	if f, ok := p.Payload[domain.PayloadFileName].(string); ok {
		fields[fieldFileName] = f
	}

	if err := b.store.HSet(ctx, pointPrefix(collection)+p.ID.String(), fields); err != nil {
		return fmt.Errorf("store point: %w", err)
	}
	return nil
}

// Search runs FT.SEARCH KNN and decodes payloads.
func (b *Backend) Search(ctx context.Context, collection string, vector []float32, limit int) ([]domain.SearchHit, error) {
	res, err := b.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(collection),
		Vector:       vector,
		K:            limit,
		ReturnFields: []string{fieldPayload},
	})
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	prefix := pointPrefix(collection)
	hits := make([]domain.SearchHit, 0, len(res.Entries))
	for _, e := range res.Entries {
		hit := domain.SearchHit{
			ID:    strings.TrimPrefix(e.Key, prefix),
			Score: float32(e.Score),
		}
		if raw, ok := e.Fields[fieldPayload]; ok && raw != "" {
			var payload map[string]any
			if err := json.Unmarshal([]byte(raw), &payload); err == nil {
				hit.Payload = payload
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Ping checks Redis connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.store.Ping(ctx) //nolint:wrapcheck // wrapped by vectorstore
}

func metaKey(name string) string     { return domain.KeyPrefix + "collection:" + name }
func indexName(name string) string   { return domain.KeyPrefix + "idx:" + name }
func pointPrefix(name string) string { return domain.KeyPrefix + "vec:" + name + ":" }
