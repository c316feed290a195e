package query

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

func TestBuildContext_Format(t *testing.T) {
	hits := []domain.SearchHit{
		hit("auth.pdf", "Use a bearer token.", 0.9),
		hit("limits.pdf", "100 requests per minute.", 0.5),
	}

	block, sources, err := BuildContext("How do I authenticate?", hits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "Based on the following documentation:\n\n" +
		"From auth.pdf:\nUse a bearer token.\n\n" +
		"From limits.pdf:\n100 requests per minute.\n\n" +
		"\nUser Question: How do I authenticate?\n\n" +
		"Please provide a clear, concise answer that can be easily spoken out loud."
	if block != want {
		t.Errorf("block mismatch:\ngot:  %q\nwant: %q", block, want)
	}
	if !reflect.DeepEqual(sources, []string{"auth.pdf", "limits.pdf"}) {
		t.Errorf("sources = %v", sources)
	}
}

func TestBuildContext_UnknownSource(t *testing.T) {
	hits := []domain.SearchHit{{Payload: map[string]any{domain.PayloadContent: "orphan"}}}

	block, sources, err := BuildContext("q", hits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(sources, []string{domain.UnknownSource}) {
		t.Errorf("sources = %v", sources)
	}
	if want := "From Unknown Source:\norphan"; !strings.Contains(block, want) {
		t.Errorf("block %q missing %q", block, want)
	}
}

func TestBuildContext_AllSkipped(t *testing.T) {
	hits := []domain.SearchHit{
		{},
		{Payload: map[string]any{domain.PayloadContent: ""}},
		{Payload: map[string]any{domain.PayloadContent: 42}},
	}

	_, _, err := BuildContext("q", hits)
	if !errors.Is(err, domain.ErrNoRelevantDocuments) {
		t.Fatalf("expected ErrNoRelevantDocuments, got %v", err)
	}
}
