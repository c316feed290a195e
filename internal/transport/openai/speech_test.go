package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

type speechBody struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Instructions   string  `json:"instructions"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func speechServer(t *testing.T, audio []byte, got *[]speechBody) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var b speechBody
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			t.Errorf("decode request: %v", err)
		}
		*got = append(*got, b)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(audio)
	}))
}

func TestSynthesizer_StreamPCM(t *testing.T) {
	var got []speechBody
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 512)
	server := speechServer(t, pcm, &got)
	defer server.Close()

	s := NewSynthesizer(newTestClient(server.URL), SynthesizerConfig{Model: "gpt-4o-mini-tts"})
	ctx, usage := domain.NewContextWithUsage(context.Background())

	rc, err := s.Stream(ctx, domain.SpeechRequest{
		Text:         "Tokens expire after one hour.",
		Instructions: "Calm.",
		Voice:        domain.VoiceSage,
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !bytes.Equal(data, pcm) {
		t.Errorf("unexpected stream bytes: %d", len(data))
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	b := got[0]
	if b.Model != "gpt-4o-mini-tts" || b.Voice != "sage" || b.ResponseFormat != "pcm" {
		t.Errorf("unexpected request: %+v", b)
	}
	if b.Instructions != "Calm." || b.Input != "Tokens expire after one hour." {
		t.Errorf("unexpected text fields: %+v", b)
	}
	if usage.SpeechChars != len("Tokens expire after one hour.") {
		t.Errorf("speech chars = %d", usage.SpeechChars)
	}
}

func TestSynthesizer_SynthesizeMP3(t *testing.T) {
	var got []speechBody
	mp3 := []byte("ID3\x04fake-mp3")
	server := speechServer(t, mp3, &got)
	defer server.Close()

	s := NewSynthesizer(newTestClient(server.URL), SynthesizerConfig{Model: "gpt-4o-mini-tts", Speed: 1.1})

	data, err := s.Synthesize(context.Background(), domain.SpeechRequest{Text: "hi", Voice: domain.VoiceCoral})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if !bytes.Equal(data, mp3) {
		t.Errorf("unexpected bytes %q", data)
	}
	if got[0].ResponseFormat != "mp3" {
		t.Errorf("expected mp3 default, got %q", got[0].ResponseFormat)
	}
	if got[0].Speed != 1.1 {
		t.Errorf("expected speed 1.1, got %v", got[0].Speed)
	}
}

func TestSynthesizer_EmptyBody(t *testing.T) {
	var got []speechBody
	server := speechServer(t, nil, &got)
	defer server.Close()

	s := NewSynthesizer(newTestClient(server.URL), SynthesizerConfig{Model: "gpt-4o-mini-tts"})
	if _, err := s.Synthesize(context.Background(), domain.SpeechRequest{Text: "hi"}); !errors.Is(err, domain.ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
}

func TestSynthesizer_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Input too long", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	s := NewSynthesizer(newTestClient(server.URL), SynthesizerConfig{Model: "gpt-4o-mini-tts"})
	_, err := s.Stream(context.Background(), domain.SpeechRequest{Text: "hi"})
	if !errors.Is(err, domain.ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	if domain.KindOf(err) != domain.KindSynthesis {
		t.Errorf("kind = %q", domain.KindOf(err))
	}
}

func TestSynthesizer_ChargesSpeechCharacters(t *testing.T) {
	var got []speechBody
	server := speechServer(t, []byte("ID3"), &got)
	defer server.Close()

	budget := &fakeBudget{}
	s := NewSynthesizer(newTestClient(server.URL), SynthesizerConfig{Model: "gpt-4o-mini-tts", Budget: budget})
	ctx, usage := domain.NewContextWithUsage(context.Background())

	// "Grüße" is 5 characters but 7 bytes.
	for range 2 {
		if _, err := s.Synthesize(ctx, domain.SpeechRequest{Text: "Grüße"}); err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
	}

	if budget.charged[domain.MeterSpeechChars] != 10 {
		t.Errorf("charged = %v, want 10 speech chars", budget.charged)
	}
	if usage.SpeechChars != 10 {
		t.Errorf("usage speech chars = %d, want 10", usage.SpeechChars)
	}
}

func TestSynthesizer_BudgetRejection(t *testing.T) {
	var got []speechBody
	server := speechServer(t, []byte("ID3"), &got)
	defer server.Close()

	budget := &fakeBudget{checkErr: fmt.Errorf("speech_chars: %w", domain.ErrBudgetExceeded)}
	s := NewSynthesizer(newTestClient(server.URL), SynthesizerConfig{Model: "gpt-4o-mini-tts", Budget: budget})

	_, err := s.Stream(context.Background(), domain.SpeechRequest{Text: "hi"})
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if domain.KindOf(err) != domain.KindSynthesis {
		t.Errorf("kind = %q, want synthesis", domain.KindOf(err))
	}
	if len(got) != 0 {
		t.Errorf("provider called %d times after rejection", len(got))
	}
}
