// Package ingest turns uploaded PDFs into chunks in the vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// Upserter writes chunks into a collection.
type Upserter interface {
	Upsert(ctx context.Context, col domain.Collection, chunks []domain.DocumentChunk) error
}

// Report describes one ingestion.
type Report struct {
	FileName string
	Pages    int
	Chunks   int
	Skipped  bool // already processed
}

// Service ingests documents into one collection and remembers what it processed.
type Service struct {
	store    Upserter
	col      domain.Collection
	splitter *Splitter
	logger   *zap.Logger
	now      func() time.Time

	// parse is swapped in tests to avoid building PDF fixtures.
	parse func(data []byte) ([]Page, error)

	mu        sync.Mutex
	processed []string
	inFlight  map[string]struct{}
}

// New creates an ingestion service.
func New(store Upserter, col domain.Collection, splitter *Splitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		col:      col,
		splitter: splitter,
		logger:   logger,
		now:      time.Now,
		parse:    extractPages,
		inFlight: make(map[string]struct{}),
	}
}

// IngestPDF parses, splits and stores a PDF. A file name that was already
// ingested (or is being ingested) is skipped.
func (s *Service) IngestPDF(ctx context.Context, fileName string, data []byte) (Report, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return Report{}, errors.New("file name is required")
	}
	rep := Report{FileName: fileName}

	if !s.reserve(fileName) {
		rep.Skipped = true
		return rep, nil
	}
	ok := false
	defer func() { s.release(fileName, ok) }()

	pages, err := s.parse(data)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", fileName, err)
	}
	rep.Pages = len(pages)

	chunks, err := s.chunk(fileName, pages)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", fileName, err)
	}
	if len(chunks) == 0 {
		return rep, fmt.Errorf("%s: %w", fileName, domain.ErrNoExtractableText)
	}

	if err := s.store.Upsert(ctx, s.col, chunks); err != nil {
		return rep, fmt.Errorf("store %s: %w", fileName, err)
	}
	rep.Chunks = len(chunks)
	ok = true

	s.logger.Info("Document ingested",
		zap.String("file_name", fileName),
		zap.Int("pages", rep.Pages),
		zap.Int("chunks", rep.Chunks),
	)
	return rep, nil
}

// Processed returns ingested file names in ingestion order.
func (s *Service) Processed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.processed)
}

// chunk splits every page. The page metadata is the zero-based page index.
func (s *Service) chunk(fileName string, pages []Page) ([]domain.DocumentChunk, error) {
	at := s.now()
	var chunks []domain.DocumentChunk
	for _, p := range pages {
		texts, err := s.splitter.Split(p.Text)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p.Number, err)
		}
		for _, text := range texts {
			chunks = append(chunks, domain.NewPDFChunk(text, fileName, p.Number-1, len(chunks), at))
		}
	}
	return chunks, nil
}

func (s *Service) reserve(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[name]; busy || slices.Contains(s.processed, name) {
		return false
	}
	s.inFlight[name] = struct{}{}
	return true
}

func (s *Service) release(name string, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, name)
	if done {
		s.processed = append(s.processed, name)
	}
}
