package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payload keys written next to every stored vector.
const (
	PayloadContent    = "content"
	PayloadFileName   = "file_name"
	PayloadSourceType = "source_type"
	PayloadTimestamp  = "timestamp"
	PayloadPage       = "page"
	PayloadChunkIndex = "chunk_index"
)

// UnknownSource labels hits whose payload carries no file name.
const UnknownSource = "Unknown Source"

// SourceTypePDF marks chunks extracted from PDF uploads.
const SourceTypePDF = "pdf"

// Metric is the similarity function of a collection.
type Metric string

// MetricCosine is the only metric voicerag creates collections with.
const MetricCosine Metric = "cosine"

// Collection is the ready handle returned by EnsureCollection.
// Dimension is fixed at creation time from a sample embedding.
type Collection struct {
	Name      string
	Dimension int
	Metric    Metric
}

// DocumentChunk is a passage of text with its source metadata.
type DocumentChunk struct {
	Content  string
	Metadata map[string]any
}

// NewPDFChunk builds a chunk with the standard PDF metadata. page is zero-based.
func NewPDFChunk(content, fileName string, page, index int, at time.Time) DocumentChunk {
	return DocumentChunk{
		Content: content,
		Metadata: map[string]any{
			PayloadSourceType: SourceTypePDF,
			PayloadFileName:   fileName,
			PayloadTimestamp:  at.UTC().Format(time.RFC3339),
			PayloadPage:       page,
			PayloadChunkIndex: index,
		},
	}
}

// Payload merges content with metadata. Metadata cannot shadow content.
func (c DocumentChunk) Payload() map[string]any {
	p := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		p[k] = v
	}
	p[PayloadContent] = c.Content
	return p
}

// StoredVector is a single point persisted in a collection.
type StoredVector struct {
	ID      uuid.UUID
	Vector  []float32
	Payload map[string]any
}

// Validate checks the vector against the collection dimension.
func (v StoredVector) Validate(dim int) error {
	if len(v.Vector) != dim {
		return NewDimensionError(dim, len(v.Vector))
	}
	return nil
}

// SearchHit is a scored point returned by similarity search.
type SearchHit struct {
	ID      string
	Payload map[string]any
	Score   float32
}

// Content returns the payload content and whether it is usable.
func (h SearchHit) Content() (string, bool) {
	if h.Payload == nil {
		return "", false
	}
	s, ok := h.Payload[PayloadContent].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// FileName returns the payload file name or UnknownSource.
func (h SearchHit) FileName() string {
	if h.Payload == nil {
		return UnknownSource
	}
	switch v := h.Payload[PayloadFileName].(type) {
	case string:
		if v != "" {
			return v
		}
	case nil:
	default:
		return fmt.Sprint(v)
	}
	return UnknownSource
}
