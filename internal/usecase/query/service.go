// Package query runs the retrieval, drafting, styling and synthesis pipeline for one question.
package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/domain"
	"github.com/kailas-cloud/voicerag/internal/metrics"
)

var tracer = otel.Tracer("github.com/kailas-cloud/voicerag/internal/usecase/query")

var errEmptyQuery = errors.New("query is empty")

// Config holds pipeline settings.
type Config struct {
	Collection   domain.Collection
	SearchLimit  int          // 0 = domain.DefaultSearchLimit
	DefaultVoice domain.Voice // empty = domain.DefaultVoice
	ArtifactMode ArtifactMode // empty = ArtifactResynthesize
}

// Service is the query orchestrator.
type Service struct {
	search    Searcher
	answer    Generator
	director  Generator
	speech    Synthesizer
	player    Player
	artifacts ArtifactStore
	cfg       Config
	logger    *zap.Logger
	newID     func() string
	observe   func(Stage)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithStageObserver registers fn to be called on every state transition.
func WithStageObserver(fn func(Stage)) Option {
	return func(s *Service) { s.observe = fn }
}

// New creates the orchestrator.
func New(
	search Searcher, answer, director Generator,
	speech Synthesizer, player Player, artifacts ArtifactStore,
	cfg Config, opts ...Option,
) *Service {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = domain.DefaultSearchLimit
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = domain.DefaultVoice
	}
	if cfg.ArtifactMode == "" {
		cfg.ArtifactMode = ArtifactResynthesize
	}
	s := &Service{
		search:    search,
		answer:    answer,
		director:  director,
		speech:    speech,
		player:    player,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
		observe:   func(Stage) {},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// run is the per-query state.
type run struct {
	query   string
	voice   domain.Voice
	stage   Stage
	hits    []domain.SearchHit
	context string
	result  domain.QueryResult
}

// Process answers q in voice. It never returns an error: every fault becomes
// a QueryResult with Status error. Cancellation is honored between stages only.
func (s *Service) Process(ctx context.Context, q string, voice domain.Voice) domain.QueryResult {
	ctx, span := tracer.Start(ctx, "query.Process", trace.WithAttributes(
		attribute.String("collection", s.cfg.Collection.Name),
	))
	defer span.End()

	if voice == "" {
		voice = s.cfg.DefaultVoice
	}
	r := &run{query: q, voice: voice, stage: StageSearching}
	s.observe(r.stage)

	if strings.TrimSpace(q) == "" {
		return s.fail(span, r, errEmptyQuery)
	}

	steps := []func(context.Context, *run) error{
		StageSearching:       s.searching,
		StageContextBuilding: s.buildingContext,
		StageDrafting:        s.drafting,
		StageStyling:         s.styling,
		StageSynthesizing:    s.synthesizing,
	}

	for !r.stage.Terminal() {
		if err := ctx.Err(); err != nil {
			return s.fail(span, r, fmt.Errorf("%s: %w", r.stage, err))
		}

		start := time.Now()
		stageCtx, stageSpan := tracer.Start(ctx, "query."+r.stage.String())
		err := steps[r.stage](stageCtx, r)
		status := "success"
		if err != nil {
			status = "error"
			stageSpan.RecordError(err)
			stageSpan.SetStatus(codes.Error, err.Error())
		}
		stageSpan.End()
		metrics.PipelineStageDuration.WithLabelValues(r.stage.String(), status).Observe(time.Since(start).Seconds())

		if err != nil {
			return s.fail(span, r, err)
		}
		r.stage = r.stage.next()
		s.observe(r.stage)
	}

	r.result.Status = domain.StatusSuccess
	r.result.Query = q
	r.result.Voice = voice
	metrics.QueriesTotal.WithLabelValues(string(domain.StatusSuccess), "").Inc()
	span.SetStatus(codes.Ok, "")

	s.logger.Info("Query answered",
		zap.String("voice", string(voice)),
		zap.Strings("sources", r.result.Sources),
		zap.String("artifact", r.result.Audio.ID),
	)
	return r.result
}

func (s *Service) fail(span trace.Span, r *run, err error) domain.QueryResult {
	failedAt := r.stage
	r.stage = StageFailed
	s.observe(r.stage)

	res := domain.FailedResult(r.query, err)
	metrics.QueriesTotal.WithLabelValues(string(domain.StatusError), string(res.ErrorKind)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	log := s.logger.Warn
	if res.ErrorKind == domain.KindNoRelevantDocuments {
		log = s.logger.Info
	}
	log("Query failed",
		zap.String("stage", failedAt.String()),
		zap.String("error_kind", string(res.ErrorKind)),
		zap.Error(err),
	)
	return res
}

func (s *Service) searching(ctx context.Context, r *run) error {
	hits, err := s.search.Search(ctx, s.cfg.Collection, r.query, s.cfg.SearchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(hits) == 0 {
		return domain.ErrNoRelevantDocuments
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("hits", len(hits)))
	r.hits = hits
	return nil
}

func (s *Service) buildingContext(_ context.Context, r *run) error {
	block, sources, err := BuildContext(r.query, r.hits)
	if err != nil {
		return err
	}
	r.context = block
	r.result.Sources = sources
	return nil
}

func (s *Service) drafting(ctx context.Context, r *run) error {
	text, err := s.answer.Generate(ctx, r.context)
	if err != nil {
		return classify("draft answer", err, domain.ErrGeneration)
	}
	r.result.TextResponse = text
	return nil
}

func (s *Service) styling(ctx context.Context, r *run) error {
	instructions, err := s.director.Generate(ctx, r.result.TextResponse)
	if err != nil {
		return classify("derive voice instructions", err, domain.ErrGeneration)
	}
	r.result.VoiceInstructions = instructions
	return nil
}

// synthesizing runs detached from cancellation: once audio starts it plays to the end.
func (s *Service) synthesizing(ctx context.Context, r *run) error {
	ctx = context.WithoutCancel(ctx)
	req := domain.SpeechRequest{
		Text:         r.result.TextResponse,
		Instructions: r.result.VoiceInstructions,
		Voice:        r.voice,
	}

	var (
		art domain.Artifact
		err error
	)
	switch s.cfg.ArtifactMode {
	case ArtifactCapture:
		art, err = s.playAndCapture(ctx, req)
	default:
		art, err = s.playAndResynthesize(ctx, req)
	}
	if err != nil {
		return classify("synthesize", err, domain.ErrSynthesis)
	}
	r.result.Audio = &art
	return nil
}

// playAndResynthesize streams PCM to the player, then persists a separate MP3 rendition.
func (s *Service) playAndResynthesize(ctx context.Context, req domain.SpeechRequest) (domain.Artifact, error) {
	live := req
	live.Format = domain.AudioPCM
	if err := s.play(ctx, live); err != nil {
		return domain.Artifact{}, err
	}

	stored := req
	stored.Format = domain.AudioMP3
	data, err := s.speech.Synthesize(ctx, stored)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("artifact synthesis: %w", err)
	}
	return s.save(ctx, domain.AudioMP3, bytes.NewReader(data))
}

func (s *Service) play(ctx context.Context, req domain.SpeechRequest) error {
	stream, err := s.speech.Stream(ctx, req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	if err := s.player.Play(ctx, stream, req.Format); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

// playAndCapture tees the live stream into the artifact store so the
// artifact holds exactly the bytes that were played.
// A failed save never interrupts playback; the stream keeps flowing to the player.
func (s *Service) playAndCapture(ctx context.Context, req domain.SpeechRequest) (domain.Artifact, error) {
	req.Format = domain.AudioPCM
	stream, err := s.speech.Stream(ctx, req)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	pr, pw := io.Pipe()
	type saved struct {
		art domain.Artifact
		err error
	}
	done := make(chan saved, 1)
	id := s.newID()
	go func() {
		art, err := s.artifacts.Save(ctx, id, req.Format, pr)
		// unblock the tee if Save stopped reading early
		_ = pr.CloseWithError(io.ErrClosedPipe)
		done <- saved{art, err}
	}()

	capture := &captureWriter{w: pw}
	tee := io.TeeReader(stream, capture)
	playErr := s.player.Play(ctx, tee, req.Format)
	if playErr == nil {
		// the player may exit before EOF; the artifact still gets the whole stream
		_, playErr = io.Copy(io.Discard, tee)
	}
	_ = pw.CloseWithError(playErr)

	res := <-done
	if res.err != nil {
		s.logger.Warn("Artifact capture failed",
			zap.String("artifact", id),
			zap.NamedError("save_error", res.err),
			zap.NamedError("playback_error", playErr),
		)
	}
	switch {
	case playErr != nil && res.err != nil && !errors.Is(res.err, playErr):
		s.discard(ctx, id)
		return domain.Artifact{}, fmt.Errorf("playback: %w; save artifact: %w", playErr, res.err)
	case playErr != nil:
		s.discard(ctx, id)
		return domain.Artifact{}, fmt.Errorf("playback: %w", playErr)
	case res.err != nil:
		s.discard(ctx, id)
		return domain.Artifact{}, fmt.Errorf("save artifact: %w", res.err)
	}
	return res.art, nil
}

// captureWriter feeds the artifact pipe until the first write error,
// then swallows the rest so the live side keeps reading.
type captureWriter struct {
	w   io.Writer
	err error
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.err == nil {
		_, c.err = c.w.Write(p)
	}
	return len(p), nil
}

func (s *Service) save(ctx context.Context, format domain.AudioFormat, r io.Reader) (domain.Artifact, error) {
	id := s.newID()
	art, err := s.artifacts.Save(ctx, id, format, r)
	if err != nil {
		s.discard(ctx, id)
		return domain.Artifact{}, fmt.Errorf("save artifact: %w", err)
	}
	return art, nil
}

// discard removes whatever a failed save left behind.
func (s *Service) discard(ctx context.Context, id string) {
	if err := s.artifacts.Delete(ctx, id); err != nil {
		s.logger.Warn("Artifact cleanup failed", zap.String("artifact", id), zap.Error(err))
	}
}

// classify wraps err with kind unless it already carries a known kind,
// so a rejected API key stays a configuration error.
func classify(op string, err, kind error) error {
	if domain.KindOf(err) != domain.KindUnknown {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
