// Package chi exposes the voice RAG pipeline over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/domain"
	healthuc "github.com/kailas-cloud/voicerag/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/voicerag/internal/usecase/ingest"
	usageuc "github.com/kailas-cloud/voicerag/internal/usecase/usage"
)

const (
	defaultMaxUploadBytes = 32 << 20
	maxQueryBodyBytes     = 64 << 10
)

// QueryProcessor runs the voice RAG pipeline.
type QueryProcessor interface {
	Process(ctx context.Context, query string, voice domain.Voice) domain.QueryResult
}

// DocumentIngester ingests uploads and lists what it processed.
type DocumentIngester interface {
	IngestPDF(ctx context.Context, fileName string, data []byte) (ingestuc.Report, error)
	Processed() []string
}

// ArtifactReader opens persisted audio.
type ArtifactReader interface {
	Open(ctx context.Context, id string) (io.ReadCloser, domain.Artifact, error)
}

// HealthChecker aggregates dependency checks.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// UsageReporter reports provider budget consumption.
type UsageReporter interface {
	GetReport(ctx context.Context, period usageuc.Period) usageuc.Report
}

// Options holds HTTP-level settings.
type Options struct {
	DefaultVoice   domain.Voice // empty = domain.DefaultVoice
	MaxUploadBytes int64        // 0 = 32 MiB
}

// Server implements the HTTP API handlers.
type Server struct {
	query     QueryProcessor
	documents DocumentIngester
	artifacts ArtifactReader
	health    HealthChecker
	usage     UsageReporter
	opts      Options
	logger    *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(
	query QueryProcessor,
	documents DocumentIngester,
	artifacts ArtifactReader,
	health HealthChecker,
	usage UsageReporter,
	opts Options,
	logger *zap.Logger,
) *Server {
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = domain.DefaultVoice
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		query:     query,
		documents: documents,
		artifacts: artifacts,
		health:    health,
		usage:     usage,
		opts:      opts,
		logger:    logger,
	}
}

// Routes registers the API on r. queryMiddleware wraps POST /v1/query only.
func (s *Server) Routes(r chi.Router, queryMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", s.UploadDocument)
		r.Get("/documents", s.ListDocuments)
		r.With(queryMiddleware...).Post("/query", s.Query)
		r.Get("/audio/{artifact}", s.GetAudio)
		r.Get("/voices", s.ListVoices)
		r.Get("/usage", s.GetUsage)
	})
}

// DocumentResponse is the result of an upload.
type DocumentResponse struct {
	FileName string `json:"file_name"`
	Pages    int    `json:"pages"`
	Chunks   int    `json:"chunks"`
	Skipped  bool   `json:"skipped"`
}

// DocumentListResponse lists processed documents.
type DocumentListResponse struct {
	Items []string `json:"items"`
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query string `json:"query"`
	Voice string `json:"voice,omitempty"`
}

// QueryResponse mirrors domain.QueryResult.
type QueryResponse struct {
	Status            domain.QueryStatus `json:"status"`
	Query             string             `json:"query"`
	Voice             domain.Voice       `json:"voice,omitempty"`
	TextResponse      string             `json:"text_response,omitempty"`
	VoiceInstructions string             `json:"voice_instructions,omitempty"`
	AudioURL          string             `json:"audio_url,omitempty"`
	Sources           []string           `json:"sources,omitempty"`
	Error             string             `json:"error,omitempty"`
	ErrorKind         domain.ErrorKind   `json:"error_kind,omitempty"`
}

// VoicesResponse lists supported voices.
type VoicesResponse struct {
	Voices  []domain.Voice `json:"voices"`
	Default domain.Voice   `json:"default"`
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	Period        usageuc.Period `json:"period"`
	PeriodStartAt time.Time      `json:"period_start_at"`
	PeriodEndAt   time.Time      `json:"period_end_at"`
	ResetsAt      time.Time      `json:"resets_at"`
	Budgets       []BudgetStatus `json:"budgets"`
}

// BudgetStatus is one meter's budget. A zero limit means unlimited.
type BudgetStatus struct {
	Meter       domain.Meter `json:"meter"`
	Limit       int64        `json:"limit"`
	Used        int64        `json:"used"`
	Remaining   int64        `json:"remaining"`
	IsExhausted bool         `json:"is_exhausted"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status healthuc.Status                  `json:"status"`
	Checks map[string]healthuc.CheckResult `json:"checks"`
}

// UploadDocument handles POST /v1/documents (multipart field "file").
func (s *Server) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrorCodeValidationFailed,
				fmt.Sprintf("file exceeds %d bytes", s.opts.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "form field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	if !strings.EqualFold(fileExt(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "only PDF files are supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "read upload: "+err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	rep, err := s.documents.IngestPDF(ctx, header.Filename, data)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if rep.Skipped {
		status = http.StatusOK
	}
	setUsageHeaders(w, usage)
	writeJSON(w, status, DocumentResponse{
		FileName: rep.FileName,
		Pages:    rep.Pages,
		Chunks:   rep.Chunks,
		Skipped:  rep.Skipped,
	})
}

// ListDocuments handles GET /v1/documents.
func (s *Server) ListDocuments(w http.ResponseWriter, _ *http.Request) {
	items := s.documents.Processed()
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Items: items})
}

// Query handles POST /v1/query. Pipeline failures are reported in the body with status 200.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxQueryBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "query is required")
		return
	}

	var voice domain.Voice
	if req.Voice != "" {
		v, err := domain.ParseVoice(req.Voice)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrorCodeInvalidVoice, err.Error())
			return
		}
		voice = v
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	res := s.query.Process(ctx, req.Query, voice)

	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, queryResultToResponse(&res))
}

// GetAudio handles GET /v1/audio/{artifact}.
func (s *Server) GetAudio(w http.ResponseWriter, r *http.Request) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "artifact", chi.URLParam(r, "artifact"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "artifact must be a UUID")
		return
	}

	body, art, err := s.artifacts.Open(r.Context(), id.String())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", art.ContentType)
	if art.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("audio write interrupted", zap.String("artifact", art.ID), zap.Error(err))
	}
}

// ListVoices handles GET /v1/voices.
func (s *Server) ListVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, VoicesResponse{Voices: domain.Voices(), Default: s.opts.DefaultVoice})
}

// GetUsage handles GET /v1/usage?period=day|month.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, err := usageuc.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "period must be \"day\" or \"month\"")
		return
	}

	report := s.usage.GetReport(r.Context(), period)
	resp := UsageResponse{
		Period:        report.Period,
		PeriodStartAt: report.PeriodStart,
		PeriodEndAt:   report.PeriodEnd,
		ResetsAt:      report.PeriodEnd,
		Budgets:       make([]BudgetStatus, 0, len(report.Meters)),
	}
	for _, m := range report.Meters {
		resp.Budgets = append(resp.Budgets, BudgetStatus{
			Meter:       m.Meter,
			Limit:       m.Limit,
			Used:        m.Used,
			Remaining:   m.Remaining,
			IsExhausted: m.Exhausted,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: report.Status,
		Checks: report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func queryResultToResponse(res *domain.QueryResult) QueryResponse {
	out := QueryResponse{
		Status:            res.Status,
		Query:             res.Query,
		Voice:             res.Voice,
		TextResponse:      res.TextResponse,
		VoiceInstructions: res.VoiceInstructions,
		Sources:           res.Sources,
		Error:             res.Error,
		ErrorKind:         res.ErrorKind,
	}
	if res.Audio != nil {
		out.AudioURL = "/v1/audio/" + res.Audio.ID
	}
	return out
}

func setUsageHeaders(w http.ResponseWriter, usage *domain.Usage) {
	if usage == nil {
		return
	}
	if usage.Embedded {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.EmbeddingTokens))
	}
	if usage.GenerationTokens > 0 {
		w.Header().Set("X-Generation-Tokens", strconv.Itoa(usage.GenerationTokens))
	}
	if usage.SpeechChars > 0 {
		w.Header().Set("X-Speech-Characters", strconv.Itoa(usage.SpeechChars))
	}
}

func fileExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
