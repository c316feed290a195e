package voicerag

import (
	"context"
	"io"
	"strings"

	"github.com/kailas-cloud/voicerag/internal/domain"
	ingestuc "github.com/kailas-cloud/voicerag/internal/usecase/ingest"
)

// --- queryUseCase mock ---

type mockQueryUC struct {
	processFn func(ctx context.Context, q string, voice domain.Voice) domain.QueryResult
}

func (m *mockQueryUC) Process(ctx context.Context, q string, voice domain.Voice) domain.QueryResult {
	return m.processFn(ctx, q, voice)
}

// --- ingestUseCase mock ---

type mockIngestUC struct {
	ingestFn  func(ctx context.Context, fileName string, data []byte) (ingestuc.Report, error)
	processed []string
}

func (m *mockIngestUC) IngestPDF(ctx context.Context, fileName string, data []byte) (ingestuc.Report, error) {
	return m.ingestFn(ctx, fileName, data)
}

func (m *mockIngestUC) Processed() []string { return m.processed }

// --- artifactReader mock ---

type mockArtifacts struct {
	data map[string]string
}

func (m *mockArtifacts) Open(_ context.Context, id string) (io.ReadCloser, domain.Artifact, error) {
	d, ok := m.data[id]
	if !ok {
		return nil, domain.Artifact{}, domain.ErrArtifactNotFound
	}
	return io.NopCloser(strings.NewReader(d)), domain.Artifact{
		ID:          id,
		Location:    "/tmp/response_" + id + ".mp3",
		ContentType: "audio/mpeg",
		Size:        int64(len(d)),
	}, nil
}

// --- pipeline fakes for New ---

type mockEmbedder struct {
	fn func(ctx context.Context, text string) (EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	return m.fn(ctx, text)
}

// keywordEmbedder puts texts mentioning "refund" on one axis and everything else on another.
func keywordEmbedder() *mockEmbedder {
	return &mockEmbedder{fn: func(_ context.Context, text string) (EmbeddingResult, error) {
		if strings.Contains(strings.ToLower(text), "refund") {
			return EmbeddingResult{Embedding: []float32{1, 0.1}, TotalTokens: 1}, nil
		}
		return EmbeddingResult{Embedding: []float32{0.1, 1}, TotalTokens: 1}, nil
	}}
}

type fakeGenerator struct {
	out string
}

func (g *fakeGenerator) Generate(_ context.Context, _ string) (string, error) {
	return g.out, nil
}

type fakeSpeech struct{}

func (fakeSpeech) Stream(_ context.Context, _ domain.SpeechRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("pcm")), nil
}

func (fakeSpeech) Synthesize(_ context.Context, _ domain.SpeechRequest) ([]byte, error) {
	return []byte("mp3"), nil
}

// withFakePipeline replaces every OpenAI-backed component.
func withFakePipeline() Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = keywordEmbedder()
		c.answer = &fakeGenerator{out: "Refunds take five days."}
		c.director = &fakeGenerator{out: "Calm and friendly."}
		c.speech = fakeSpeech{}
	})
}

// --- helpers ---

func testClient(query queryUseCase, ingest ingestUseCase, artifacts artifactReader) *Client {
	return &Client{
		query:     query,
		ingest:    ingest,
		artifacts: artifacts,
	}
}
