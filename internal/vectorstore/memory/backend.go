// Package memory is an in-process vector backend on an embedded chromem-go database.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// metaPayload holds the JSON-encoded point payload; chromem metadata is string-only.
const metaPayload = "payload"

var errNoEmbeddingFunc = errors.New("memory backend stores precomputed vectors only")

// noEmbedding keeps chromem from falling back to its default remote embedder.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Backend keeps every collection in memory. Safe for concurrent use.
type Backend struct {
	mu   sync.RWMutex
	db   *chromem.DB
	dims map[string]int
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{db: chromem.NewDB(), dims: make(map[string]int)}
}

// CreateCollection registers a collection of the given dimension.
func (b *Backend) CreateCollection(_ context.Context, name string, dim int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.dims[name]; ok {
		return domain.ErrCollectionExists
	}
	if _, err := b.db.CreateCollection(name, nil, noEmbedding); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	b.dims[name] = dim
	return nil
}

// CollectionDimension returns the dimension fixed at creation.
func (b *Backend) CollectionDimension(_ context.Context, name string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dim, ok := b.dims[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	return dim, nil
}

// Upsert stores a copy of the point. An existing id is replaced.
func (b *Backend) Upsert(ctx context.Context, name string, p domain.StoredVector) error {
	col, dim, err := b.collection(name)
	if err != nil {
		return err
	}
	if err := p.Validate(dim); err != nil {
		return err //nolint:wrapcheck // domain error
	}

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("encode payload %s: %w", p.ID, err)
	}
	content, _ := p.Payload[domain.PayloadContent].(string)

	doc := chromem.Document{
		ID:        p.ID.String(),
		Metadata:  map[string]string{metaPayload: string(payload)},
		Embedding: append([]float32(nil), p.Vector...),
		Content:   content,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("upsert %s: %w", p.ID, err)
	}
	return nil
}

// Search returns the top limit points by cosine similarity.
// Every hit carries its own decoded payload.
func (b *Backend) Search(ctx context.Context, name string, vector []float32, limit int) ([]domain.SearchHit, error) {
	col, dim, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, domain.NewDimensionError(dim, len(vector))
	}

	// chromem rejects nResults above the collection size
	n := min(limit, col.Count())
	if n <= 0 {
		return []domain.SearchHit{}, nil
	}

	results, err := col.QueryEmbedding(ctx, append([]float32(nil), vector...), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}

	hits := make([]domain.SearchHit, 0, len(results))
	for i := range results {
		r := &results[i]
		payload, err := decodePayload(r.Metadata[metaPayload])
		if err != nil {
			return nil, fmt.Errorf("decode payload %s: %w", r.ID, err)
		}
		hits = append(hits, domain.SearchHit{ID: r.ID, Payload: payload, Score: r.Similarity})
	}
	return hits, nil
}

// Ping always succeeds.
func (b *Backend) Ping(context.Context) error { return nil }

// Len returns the number of points in a collection.
func (b *Backend) Len(name string) int {
	col, _, err := b.collection(name)
	if err != nil {
		return 0
	}
	return col.Count()
}

func (b *Backend) collection(name string) (*chromem.Collection, int, error) {
	b.mu.RLock()
	dim, ok := b.dims[name]
	b.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	col := b.db.GetCollection(name, noEmbedding)
	if col == nil {
		return nil, 0, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	return col, dim, nil
}

// decodePayload restores integers as int64, the way the qdrant backend returns them.
func decodePayload(raw string) (map[string]any, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	for k, v := range payload {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			payload[k] = i
		} else if f, err := n.Float64(); err == nil {
			payload[k] = f
		}
	}
	return payload, nil
}
