package audio

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// fakeBucket implements Uploader, Downloader and Deleter over a map.
type fakeBucket struct {
	objects     map[string][]byte
	types       map[string]string
	uploadErr   error
	downloadErr error
	deleted     []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBucket) Upload(
	_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader),
) (*manager.UploadOutput, error) {
	if b.uploadErr != nil {
		return nil, b.uploadErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.objects[aws.ToString(in.Key)] = data
	b.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &manager.UploadOutput{}, nil
}

func (b *fakeBucket) Download(
	_ context.Context, w io.WriterAt, in *s3.GetObjectInput, _ ...func(*manager.Downloader),
) (int64, error) {
	if b.downloadErr != nil {
		return 0, b.downloadErr
	}
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return 0, &types.NoSuchKey{}
	}
	n, err := w.WriteAt(data, 0)
	return int64(n), err
}

func (b *fakeBucket) DeleteObject(
	_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options),
) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	delete(b.objects, key)
	b.deleted = append(b.deleted, key)
	return &s3.DeleteObjectOutput{}, nil
}

func newTestS3Store(b *fakeBucket) *S3Store {
	return NewS3StoreWithClients(b, b, b, "answers", "voice")
}

func TestS3Store_SaveOpen(t *testing.T) {
	b := newFakeBucket()
	s := newTestS3Store(b)
	ctx := context.Background()
	id := uuid.NewString()

	art, err := s.Save(ctx, id, domain.AudioMP3, strings.NewReader("mp3-data"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	key := "voice/response_" + id + ".mp3"
	if art.Location != "s3://answers/"+key {
		t.Errorf("location = %q", art.Location)
	}
	if b.types[key] != "audio/mpeg" {
		t.Errorf("content type = %q", b.types[key])
	}
	if art.Size != 8 {
		t.Errorf("size = %d", art.Size)
	}

	rc, got, err := s.Open(ctx, id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "mp3-data" {
		t.Errorf("data = %q", data)
	}
	if got.ContentType != "audio/mpeg" || got.Size != 8 {
		t.Errorf("unexpected artifact: %+v", got)
	}
}

func TestS3Store_OpenFallsBackToPCM(t *testing.T) {
	b := newFakeBucket()
	s := newTestS3Store(b)
	id := uuid.NewString()
	b.objects["voice/response_"+id+".pcm"] = []byte("raw")

	_, art, err := s.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if art.ContentType != domain.AudioPCM.ContentType() {
		t.Errorf("content type = %q", art.ContentType)
	}
}

func TestS3Store_OpenMissing(t *testing.T) {
	s := newTestS3Store(newFakeBucket())

	_, _, err := s.Open(context.Background(), uuid.NewString())
	if !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestS3Store_DownloadError(t *testing.T) {
	b := newFakeBucket()
	b.downloadErr = errors.New("throttled")
	s := newTestS3Store(b)

	_, _, err := s.Open(context.Background(), uuid.NewString())
	if err == nil || errors.Is(err, domain.ErrArtifactNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestS3Store_UploadError(t *testing.T) {
	b := newFakeBucket()
	b.uploadErr = errors.New("access denied")
	s := newTestS3Store(b)

	if _, err := s.Save(context.Background(), uuid.NewString(), domain.AudioMP3, strings.NewReader("x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestS3Store_EmptyAudioDeleted(t *testing.T) {
	b := newFakeBucket()
	s := newTestS3Store(b)
	id := uuid.NewString()

	if _, err := s.Save(context.Background(), id, domain.AudioMP3, strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty audio")
	}
	if _, ok := b.objects["voice/response_"+id+".mp3"]; ok {
		t.Error("expected empty object removed")
	}
}

func TestS3Store_DeleteAllFormats(t *testing.T) {
	b := newFakeBucket()
	s := newTestS3Store(b)
	id := uuid.NewString()

	if err := s.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(b.deleted) != 2 {
		t.Fatalf("expected 2 deletes, got %v", b.deleted)
	}
}

func TestS3Store_PrefixNormalized(t *testing.T) {
	s := NewS3StoreWithClients(nil, nil, nil, "b", "")
	if got := s.key("id", domain.AudioMP3); got != "response_id.mp3" {
		t.Errorf("key = %q", got)
	}
	s = NewS3StoreWithClients(nil, nil, nil, "b", "p/")
	if got := s.key("id", domain.AudioMP3); got != "p/response_id.mp3" {
		t.Errorf("key = %q", got)
	}
}
