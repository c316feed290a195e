package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// LocalStore keeps artifacts as files in one directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory when missing.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Save writes r to response_<id><ext>. Partial files are removed on failure.
func (s *LocalStore) Save(_ context.Context, id string, format domain.AudioFormat, r io.Reader) (domain.Artifact, error) {
	if err := validateID(id); err != nil {
		return domain.Artifact{}, err
	}
	path := filepath.Join(s.dir, artifactName(id, format))

	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("create artifact: %w", err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return domain.Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if n == 0 {
		_ = os.Remove(path)
		return domain.Artifact{}, errors.New("write artifact: empty audio")
	}

	return domain.Artifact{ID: id, Location: path, ContentType: format.ContentType(), Size: n}, nil
}

// Open finds the artifact file by id.
func (s *LocalStore) Open(_ context.Context, id string) (io.ReadCloser, domain.Artifact, error) {
	if err := validateID(id); err != nil {
		return nil, domain.Artifact{}, err
	}
	for _, format := range knownFormats {
		path := filepath.Join(s.dir, artifactName(id, format))
		f, err := os.Open(filepath.Clean(path))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, domain.Artifact{}, fmt.Errorf("open artifact: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, domain.Artifact{}, fmt.Errorf("stat artifact: %w", err)
		}
		return f, domain.Artifact{ID: id, Location: path, ContentType: format.ContentType(), Size: info.Size()}, nil
	}
	return nil, domain.Artifact{}, fmt.Errorf("%s: %w", id, domain.ErrArtifactNotFound)
}

// Delete removes the artifact in every known format. Missing files are ignored.
func (s *LocalStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	for _, format := range knownFormats {
		err := os.Remove(filepath.Join(s.dir, artifactName(id, format)))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete artifact: %w", err)
		}
	}
	return nil
}

// validateID keeps ids path-safe.
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("artifact id %q: %w", id, domain.ErrArtifactNotFound)
	}
	return nil
}
