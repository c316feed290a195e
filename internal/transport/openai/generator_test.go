package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 50, "completion_tokens": 12, "total_tokens": 62},
		})
	}))
}

func TestGenerator_Generate(t *testing.T) {
	var got chatRequest
	server := chatServer(t, "  Tokens expire after one hour.  ", &got)
	defer server.Close()

	g := NewGenerator(newTestClient(server.URL), GeneratorConfig{Model: "gpt-4o", Role: RoleAnswer})

	out, err := g.Generate(context.Background(), "Based on the following documentation:")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "Tokens expire after one hour." {
		t.Errorf("unexpected output %q", out)
	}

	if got.Model != "gpt-4o" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != DefaultAnswerPrompt {
		t.Errorf("unexpected system message: %+v", got.Messages[0])
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "Based on the following documentation:" {
		t.Errorf("unexpected user message: %+v", got.Messages[1])
	}
}

func TestGenerator_DirectorUsesDirectorPrompt(t *testing.T) {
	var got chatRequest
	server := chatServer(t, "Calm, measured tone.", &got)
	defer server.Close()

	g := NewGenerator(newTestClient(server.URL), GeneratorConfig{Model: "gpt-4o", Role: RoleDirector})
	if _, err := g.Generate(context.Background(), "answer"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.Messages[0].Content != DefaultDirectorPrompt {
		t.Errorf("expected director prompt, got %q", got.Messages[0].Content)
	}
}

func TestGenerator_CustomPrompt(t *testing.T) {
	var got chatRequest
	server := chatServer(t, "ok", &got)
	defer server.Close()

	g := NewGenerator(newTestClient(server.URL), GeneratorConfig{
		Model: "gpt-4o", Role: RoleAnswer, SystemPrompt: "Answer like a pirate.",
	})
	if _, err := g.Generate(context.Background(), "q"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.Messages[0].Content != "Answer like a pirate." {
		t.Errorf("custom prompt ignored: %q", got.Messages[0].Content)
	}
}

func TestGenerator_BlankCompletion(t *testing.T) {
	server := chatServer(t, "   ", nil)
	defer server.Close()

	g := NewGenerator(newTestClient(server.URL), GeneratorConfig{Model: "gpt-4o", Role: RoleAnswer})
	if _, err := g.Generate(context.Background(), "q"); !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestGenerator_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "model overloaded", "type": "server_error"},
		})
	}))
	defer server.Close()

	g := NewGenerator(newTestClient(server.URL), GeneratorConfig{Model: "gpt-4o", Role: RoleDirector})
	_, err := g.Generate(context.Background(), "q")
	if !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if domain.KindOf(err) != domain.KindGeneration {
		t.Errorf("kind = %q", domain.KindOf(err))
	}
}

func TestGenerator_ConnectionRefusedKeepsCause(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	g := NewGenerator(newTestClient(url), GeneratorConfig{Model: "gpt-4o", Role: RoleAnswer})
	_, err := g.Generate(context.Background(), "q")
	if !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if len(err.Error()) <= len(domain.ErrGeneration.Error()) {
		t.Errorf("expected underlying cause in message, got %q", err)
	}
}

type fakeBudget struct {
	checkErr error
	checked  []domain.Meter
	charged  map[domain.Meter]int64
}

func (f *fakeBudget) Check(_ context.Context, m domain.Meter) error {
	f.checked = append(f.checked, m)
	return f.checkErr
}

func (f *fakeBudget) Record(m domain.Meter, n int64) {
	if f.charged == nil {
		f.charged = map[domain.Meter]int64{}
	}
	f.charged[m] += n
}

func TestGenerator_ChargesGenerationTokens(t *testing.T) {
	server := chatServer(t, "ok", nil)
	defer server.Close()

	budget := &fakeBudget{}
	g := NewGenerator(newTestClient(server.URL), GeneratorConfig{Model: "gpt-4o", Role: RoleAnswer, Budget: budget})
	ctx, usage := domain.NewContextWithUsage(context.Background())

	if _, err := g.Generate(ctx, "q"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(budget.checked) != 1 || budget.checked[0] != domain.MeterGenerationTokens {
		t.Errorf("checked = %v", budget.checked)
	}
	if budget.charged[domain.MeterGenerationTokens] != 62 {
		t.Errorf("charged = %v, want 62 generation tokens", budget.charged)
	}
	if usage.GenerationTokens != 62 {
		t.Errorf("usage generation tokens = %d, want 62", usage.GenerationTokens)
	}
}

func TestGenerator_BlankCompletionIsStillCharged(t *testing.T) {
	server := chatServer(t, "  ", nil)
	defer server.Close()

	budget := &fakeBudget{}
	g := NewGenerator(newTestClient(server.URL), GeneratorConfig{Model: "gpt-4o", Role: RoleDirector, Budget: budget})

	if _, err := g.Generate(context.Background(), "q"); !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if budget.charged[domain.MeterGenerationTokens] != 62 {
		t.Errorf("charged = %v", budget.charged)
	}
}

func TestGenerator_BudgetRejectionSkipsTheCall(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	budget := &fakeBudget{checkErr: fmt.Errorf("generation_tokens: %w", domain.ErrBudgetExceeded)}
	g := NewGenerator(newTestClient(server.URL), GeneratorConfig{Model: "gpt-4o", Role: RoleAnswer, Budget: budget})

	_, err := g.Generate(context.Background(), "q")
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if domain.KindOf(err) != domain.KindGeneration {
		t.Errorf("kind = %q, want generation", domain.KindOf(err))
	}
	if calls != 0 {
		t.Errorf("provider called %d times after rejection", calls)
	}
	if len(budget.charged) != 0 {
		t.Errorf("rejected call charged: %v", budget.charged)
	}
}
