package query

import (
	"context"
	"io"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// Searcher retrieves the top hits for a query.
type Searcher interface {
	Search(ctx context.Context, col domain.Collection, query string, limit int) ([]domain.SearchHit, error)
}

// Generator is a one-shot text-in/text-out model call.
// Used for both the answer generator and the voice director.
type Generator interface {
	Generate(ctx context.Context, input string) (string, error)
}

// Synthesizer converts text plus delivery instructions into audio.
type Synthesizer interface {
	// Stream returns the live audio body. The caller closes it.
	Stream(ctx context.Context, req domain.SpeechRequest) (io.ReadCloser, error)
	// Synthesize returns the complete audio buffer.
	Synthesize(ctx context.Context, req domain.SpeechRequest) ([]byte, error)
}

// Player plays a live audio stream to completion.
type Player interface {
	Play(ctx context.Context, r io.Reader, format domain.AudioFormat) error
}

// ArtifactStore persists audio for later download.
type ArtifactStore interface {
	Save(ctx context.Context, id string, format domain.AudioFormat, r io.Reader) (domain.Artifact, error)
	Delete(ctx context.Context, id string) error
}
