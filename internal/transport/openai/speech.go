package openai

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/domain"
	"github.com/kailas-cloud/voicerag/internal/metrics"
)

// Synthesizer converts text plus delivery instructions into audio via /audio/speech.
type Synthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
	speed  float64
	budget domain.Budget
	logger *zap.Logger
}

// SynthesizerConfig holds speech settings.
type SynthesizerConfig struct {
	Model  string
	Speed  float64       // 0 = provider default
	Budget domain.Budget // nil = unmetered
	Logger *zap.Logger
}

// NewSynthesizer creates a speech synthesizer on a shared client.
func NewSynthesizer(client *openai.Client, cfg SynthesizerConfig) *Synthesizer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		client: client,
		model:  openai.SpeechModel(cfg.Model),
		speed:  cfg.Speed,
		budget: cfg.Budget,
		logger: logger,
	}
}

// Stream starts synthesis and returns the live response body.
// The caller owns the reader and must close it. Every accepted request is
// charged its input characters, so a second rendition costs again.
func (s *Synthesizer) Stream(ctx context.Context, req domain.SpeechRequest) (io.ReadCloser, error) {
	format := req.Format
	if format == "" {
		format = domain.AudioPCM
	}
	if s.budget != nil {
		if err := s.budget.Check(ctx, domain.MeterSpeechChars); err != nil {
			metrics.SpeechRequestsTotal.WithLabelValues(string(format), "rejected").Inc()
			return nil, fmt.Errorf("speech: %w: %w", domain.ErrSynthesis, err)
		}
	}

	resp, err := s.client.CreateSpeech(ctx, s.request(req, format))
	if err != nil {
		metrics.SpeechRequestsTotal.WithLabelValues(string(format), "error").Inc()
		return nil, parseAPIError("speech", err, domain.ErrSynthesis)
	}
	metrics.SpeechRequestsTotal.WithLabelValues(string(format), "success").Inc()
	chars := utf8.RuneCountInString(req.Text)
	domain.UsageFromContext(ctx).AddSpeechChars(chars)
	if s.budget != nil {
		s.budget.Record(domain.MeterSpeechChars, int64(chars))
	}

	return &countingReader{rc: resp, format: string(format)}, nil
}

// Synthesize returns the complete audio buffer.
func (s *Synthesizer) Synthesize(ctx context.Context, req domain.SpeechRequest) ([]byte, error) {
	if req.Format == "" {
		req.Format = domain.AudioMP3
	}

	body, err := s.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read speech body: %v: %w", err, domain.ErrSynthesis) //nolint:errorlint // sentinel wrapped
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty speech response: %w", domain.ErrSynthesis)
	}

	s.logger.Debug("Speech synthesized",
		zap.String("format", string(req.Format)),
		zap.String("voice", string(req.Voice)),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

func (s *Synthesizer) request(req domain.SpeechRequest, format domain.AudioFormat) openai.CreateSpeechRequest {
	return openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		Instructions:   req.Instructions,
		ResponseFormat: openai.SpeechResponseFormat(format),
		Speed:          s.speed,
	}
}

// countingReader reports streamed bytes to metrics on Close.
type countingReader struct {
	rc     io.ReadCloser
	format string
	n      int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n += int64(n)
	return n, err //nolint:wrapcheck // io.Reader contract requires io.EOF unwrapped
}

func (c *countingReader) Close() error {
	metrics.SpeechBytesTotal.WithLabelValues(c.format).Add(float64(c.n))
	return c.rc.Close() //nolint:wrapcheck // passthrough
}
