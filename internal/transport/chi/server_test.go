package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kailas-cloud/voicerag/internal/domain"
	healthuc "github.com/kailas-cloud/voicerag/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/voicerag/internal/usecase/ingest"
	usageuc "github.com/kailas-cloud/voicerag/internal/usecase/usage"
)

// --- Mocks ---

type mockQuery struct {
	result    domain.QueryResult
	lastQuery string
	lastVoice domain.Voice
	calls     int
}

func (m *mockQuery) Process(ctx context.Context, q string, voice domain.Voice) domain.QueryResult {
	m.calls++
	m.lastQuery = q
	m.lastVoice = voice
	domain.UsageFromContext(ctx).AddEmbeddingTokens(7)
	domain.UsageFromContext(ctx).AddGenerationTokens(130)
	domain.UsageFromContext(ctx).AddSpeechChars(42)
	return m.result
}

type mockIngester struct {
	report    ingestuc.Report
	err       error
	processed []string
	lastName  string
	lastData  []byte
}

func (m *mockIngester) IngestPDF(_ context.Context, name string, data []byte) (ingestuc.Report, error) {
	m.lastName = name
	m.lastData = data
	return m.report, m.err
}

func (m *mockIngester) Processed() []string { return m.processed }

type mockArtifacts struct {
	data map[string][]byte
	err  error
}

func (m *mockArtifacts) Open(_ context.Context, id string) (io.ReadCloser, domain.Artifact, error) {
	if m.err != nil {
		return nil, domain.Artifact{}, m.err
	}
	data, ok := m.data[id]
	if !ok {
		return nil, domain.Artifact{}, fmt.Errorf("%s: %w", id, domain.ErrArtifactNotFound)
	}
	art := domain.Artifact{ID: id, ContentType: "audio/mpeg", Size: int64(len(data))}
	return io.NopCloser(bytes.NewReader(data)), art, nil
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

type mockUsage struct {
	lastPeriod usageuc.Period
}

func (m *mockUsage) GetReport(_ context.Context, period usageuc.Period) usageuc.Report {
	m.lastPeriod = period
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	return usageuc.Report{
		Period:      period,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 1, 0),
		Meters: []usageuc.MeterReport{
			{Meter: domain.MeterEmbeddingTokens, Limit: 1000, Used: 1000, Exhausted: true},
			{Meter: domain.MeterGenerationTokens, Used: 4200},
			{Meter: domain.MeterSpeechChars, Limit: 50000, Used: 12000, Remaining: 38000},
		},
	}
}

// --- Helpers ---

type testEnv struct {
	query     *mockQuery
	ingest    *mockIngester
	artifacts *mockArtifacts
	health    *mockHealth
	usage     *mockUsage
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		query:     &mockQuery{},
		ingest:    &mockIngester{},
		artifacts: &mockArtifacts{data: map[string][]byte{}},
		health: &mockHealth{report: healthuc.Report{
			Status: healthuc.Healthy,
			Checks: map[string]healthuc.CheckResult{healthuc.CheckVectorStore: healthuc.CheckOK},
		}},
		usage: &mockUsage{},
	}
	srv := NewServer(env.query, env.ingest, env.artifacts, env.health, env.usage, Options{DefaultVoice: domain.VoiceSage}, nil)
	r := chi.NewRouter()
	srv.Routes(r)
	env.handler = r
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func multipartUpload(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// --- Query ---

func TestQuery_Success(t *testing.T) {
	env := newTestEnv(t)
	env.query.result = domain.QueryResult{
		Status:            domain.StatusSuccess,
		Query:             "How do I authenticate?",
		Voice:             domain.VoiceNova,
		TextResponse:      "Use the Authorization header.",
		VoiceInstructions: "Warm and clear.",
		Audio:             &domain.Artifact{ID: "8f0c2a64-54f7-4a43-9a55-5c8e9d7d1b10"},
		Sources:           []string{"auth.pdf"},
	}

	req := httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query":"How do I authenticate?","voice":"Nova"}`))
	rr := env.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if env.query.lastVoice != domain.VoiceNova {
		t.Errorf("voice = %q", env.query.lastVoice)
	}
	if rr.Header().Get("X-Embedding-Tokens") != "7" || rr.Header().Get("X-Speech-Characters") != "42" ||
		rr.Header().Get("X-Generation-Tokens") != "130" {
		t.Errorf("usage headers = %v", rr.Header())
	}

	resp := decode[QueryResponse](t, rr)
	if resp.Status != domain.StatusSuccess || resp.TextResponse != "Use the Authorization header." {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.AudioURL != "/v1/audio/8f0c2a64-54f7-4a43-9a55-5c8e9d7d1b10" {
		t.Errorf("audio url = %q", resp.AudioURL)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "auth.pdf" {
		t.Errorf("sources = %v", resp.Sources)
	}
}

func TestQuery_PipelineErrorIs200(t *testing.T) {
	env := newTestEnv(t)
	env.query.result = domain.FailedResult("q", domain.ErrNoRelevantDocuments)

	rr := env.do(httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query":"q"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[QueryResponse](t, rr)
	if resp.Status != domain.StatusError || resp.ErrorKind != domain.KindNoRelevantDocuments {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.Contains(resp.Error, "No relevant documents") {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.AudioURL != "" {
		t.Error("error response must not carry audio")
	}
}

func TestQuery_EmptyVoiceUsesPipelineDefault(t *testing.T) {
	env := newTestEnv(t)
	env.query.result = domain.QueryResult{Status: domain.StatusSuccess}

	env.do(httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query":"q"}`)))

	if env.query.lastVoice != "" {
		t.Errorf("voice = %q, want empty", env.query.lastVoice)
	}
}

func TestQuery_BadInput(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode ErrorCode
	}{
		{"malformed", `{"query":`, ErrorCodeBadRequest},
		{"empty query", `{"query":"  "}`, ErrorCodeValidationFailed},
		{"unknown voice", `{"query":"q","voice":"robot"}`, ErrorCodeInvalidVoice},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.do(httptest.NewRequest("POST", "/v1/query", strings.NewReader(tc.body)))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if resp := decode[ErrorResponse](t, rr); resp.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tc.wantCode)
			}
			if env.query.calls != 0 {
				t.Error("pipeline must not run on bad input")
			}
		})
	}
}

func TestQuery_MiddlewareAppliesToQueryOnly(t *testing.T) {
	env := newTestEnv(t)
	srv := NewServer(env.query, env.ingest, env.artifacts, env.health, env.usage, Options{}, nil)
	r := chi.NewRouter()
	srv.Routes(r, func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query":"q"}`)))
	if rr.Code != http.StatusTeapot {
		t.Errorf("query status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/v1/voices", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Errorf("voices status = %d", rr.Code)
	}
}

// --- Documents ---

func TestUploadDocument_Created(t *testing.T) {
	env := newTestEnv(t)
	env.ingest.report = ingestuc.Report{FileName: "auth.pdf", Pages: 2, Chunks: 3}

	rr := env.do(multipartUpload(t, "file", "auth.pdf", []byte("%PDF-1.4 data")))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if env.ingest.lastName != "auth.pdf" || string(env.ingest.lastData) != "%PDF-1.4 data" {
		t.Errorf("ingested %q with %q", env.ingest.lastName, env.ingest.lastData)
	}
	resp := decode[DocumentResponse](t, rr)
	if resp != (DocumentResponse{FileName: "auth.pdf", Pages: 2, Chunks: 3}) {
		t.Errorf("response = %+v", resp)
	}
}

func TestUploadDocument_SkippedIs200(t *testing.T) {
	env := newTestEnv(t)
	env.ingest.report = ingestuc.Report{FileName: "auth.pdf", Skipped: true}

	rr := env.do(multipartUpload(t, "file", "auth.pdf", []byte("%PDF")))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !decode[DocumentResponse](t, rr).Skipped {
		t.Error("expected skipped")
	}
}

func TestUploadDocument_Validation(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.do(multipartUpload(t, "other", "auth.pdf", []byte("x"))); rr.Code != http.StatusBadRequest {
		t.Errorf("missing field: status = %d", rr.Code)
	}
	if rr := env.do(multipartUpload(t, "file", "notes.txt", []byte("x"))); rr.Code != http.StatusBadRequest {
		t.Errorf("non-pdf: status = %d", rr.Code)
	}
	rr := env.do(httptest.NewRequest("POST", "/v1/documents", strings.NewReader("plain")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("not multipart: status = %d", rr.Code)
	}
}

func TestUploadDocument_DomainErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{"no text", fmt.Errorf("scan.pdf: %w", domain.ErrNoExtractableText),
			http.StatusUnprocessableEntity, ErrorCodeNoExtractableText},
		{"quota", fmt.Errorf("embed: %w", domain.ErrBudgetExceeded),
			http.StatusPaymentRequired, ErrorCodeBudgetExceeded},
		{"provider", fmt.Errorf("embed: %w", domain.ErrEmbeddingProviderError),
			http.StatusBadGateway, ErrorCodeEmbeddingProviderError},
		{"dimension", domain.NewDimensionError(1536, 768),
			http.StatusConflict, ErrorCodeVectorDimMismatch},
		{"internal", errors.New("qdrant: connection reset"),
			http.StatusInternalServerError, ErrorCodeInternalError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ingest.err = tc.err

			rr := env.do(multipartUpload(t, "file", "scan.pdf", []byte("%PDF")))

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			resp := decode[ErrorResponse](t, rr)
			if resp.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tc.wantCode)
			}
			if strings.Contains(resp.Message, "connection reset") {
				t.Error("internal details leaked to client")
			}
		})
	}
}

func TestListDocuments(t *testing.T) {
	env := newTestEnv(t)

	resp := decode[DocumentListResponse](t, env.do(httptest.NewRequest("GET", "/v1/documents", http.NoBody)))
	if resp.Items == nil || len(resp.Items) != 0 {
		t.Errorf("expected empty list, got %v", resp.Items)
	}

	env.ingest.processed = []string{"a.pdf", "b.pdf"}
	resp = decode[DocumentListResponse](t, env.do(httptest.NewRequest("GET", "/v1/documents", http.NoBody)))
	if len(resp.Items) != 2 || resp.Items[0] != "a.pdf" {
		t.Errorf("items = %v", resp.Items)
	}
}

// --- Audio ---

func TestGetAudio(t *testing.T) {
	env := newTestEnv(t)
	const id = "8f0c2a64-54f7-4a43-9a55-5c8e9d7d1b10"
	env.artifacts.data[id] = []byte("mp3-bytes")

	rr := env.do(httptest.NewRequest("GET", "/v1/audio/"+id, http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "audio/mpeg" || rr.Header().Get("Content-Length") != "9" {
		t.Errorf("headers = %v", rr.Header())
	}
	if rr.Body.String() != "mp3-bytes" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestGetAudio_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest("GET", "/v1/audio/8f0c2a64-54f7-4a43-9a55-5c8e9d7d1b10", http.NoBody))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if decode[ErrorResponse](t, rr).Code != ErrorCodeArtifactNotFound {
		t.Error("expected artifact_not_found")
	}
}

func TestGetAudio_InvalidID(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest("GET", "/v1/audio/not-a-uuid", http.NoBody))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

// --- Misc ---

func TestListVoices(t *testing.T) {
	env := newTestEnv(t)

	resp := decode[VoicesResponse](t, env.do(httptest.NewRequest("GET", "/v1/voices", http.NoBody)))

	if resp.Default != domain.VoiceSage {
		t.Errorf("default = %q", resp.Default)
	}
	if len(resp.Voices) != 11 {
		t.Errorf("voices = %v", resp.Voices)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		status healthuc.Status
		want   int
	}{
		{healthuc.Healthy, http.StatusOK},
		{healthuc.Degraded, http.StatusOK},
		{healthuc.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			env := newTestEnv(t)
			env.health.report.Status = tc.status

			rr := env.do(httptest.NewRequest("GET", "/health", http.NoBody))

			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
			if resp := decode[HealthResponse](t, rr); resp.Status != tc.status {
				t.Errorf("body status = %q", resp.Status)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest("GET", "/metrics", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

// --- /v1/usage ---

func TestGetUsage_DefaultsToMonth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/v1/usage", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if env.usage.lastPeriod != usageuc.PeriodMonth {
		t.Errorf("period = %q, want month", env.usage.lastPeriod)
	}
	resp := decode[UsageResponse](t, rr)
	if !resp.ResetsAt.Equal(resp.PeriodEndAt) {
		t.Errorf("resets_at %v != period end %v", resp.ResetsAt, resp.PeriodEndAt)
	}
	if len(resp.Budgets) != 3 {
		t.Fatalf("budgets = %+v", resp.Budgets)
	}
	emb := resp.Budgets[0]
	if emb.Meter != domain.MeterEmbeddingTokens || !emb.IsExhausted || emb.Limit != 1000 || emb.Used != 1000 {
		t.Errorf("embedding budget = %+v", emb)
	}
	gen := resp.Budgets[1]
	if gen.Meter != domain.MeterGenerationTokens || gen.Limit != 0 || gen.Used != 4200 || gen.IsExhausted {
		t.Errorf("generation budget = %+v", gen)
	}
	speech := resp.Budgets[2]
	if speech.Meter != domain.MeterSpeechChars || speech.Remaining != 38000 {
		t.Errorf("speech budget = %+v", speech)
	}
}

func TestGetUsage_Day(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/v1/usage?period=day", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if env.usage.lastPeriod != usageuc.PeriodDay {
		t.Errorf("period = %q, want day", env.usage.lastPeriod)
	}
}

func TestGetUsage_InvalidPeriod(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/v1/usage?period=year", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	resp := decode[ErrorResponse](t, rr)
	if resp.Code != ErrorCodeValidationFailed {
		t.Errorf("code = %q", resp.Code)
	}
}
