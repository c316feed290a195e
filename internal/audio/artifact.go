package audio

import (
	"context"
	"io"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// ArtifactStore persists synthesized audio under an opaque id.
type ArtifactStore interface {
	// Save consumes r completely. On error nothing is left behind.
	Save(ctx context.Context, id string, format domain.AudioFormat, r io.Reader) (domain.Artifact, error)
	// Open returns domain.ErrArtifactNotFound for unknown ids.
	Open(ctx context.Context, id string) (io.ReadCloser, domain.Artifact, error)
	Delete(ctx context.Context, id string) error
}

// knownFormats is the lookup order used by Open.
var knownFormats = []domain.AudioFormat{domain.AudioMP3, domain.AudioPCM}

// artifactName is the object/file name for an artifact, e.g. response_<id>.mp3.
func artifactName(id string, format domain.AudioFormat) string {
	return "response_" + id + format.Extension()
}
