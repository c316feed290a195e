package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// Uploader is the subset of manager.Uploader used by S3Store.
type Uploader interface {
	Upload(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Downloader is the subset of manager.Downloader used by S3Store.
type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, params *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error)
}

// Deleter is the subset of *s3.Client used by S3Store.
type Deleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds bucket settings for S3Store.
type S3Config struct {
	Bucket         string
	Region         string
	Prefix         string
	Endpoint       string // S3-compatible endpoint (MinIO, LocalStack)
	ForcePathStyle bool
	AccessKeyID    string // empty = default credential chain
	SecretKey      string
}

// S3Store keeps artifacts in an S3 bucket.
type S3Store struct {
	uploader   Uploader
	downloader Downloader
	deleter    Deleter
	bucket     string
	prefix     string
}

// NewS3Store loads AWS config and builds the transfer managers.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %v: %w", err, domain.ErrConfiguration) //nolint:errorlint // sentinel wrapped
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewS3StoreWithClients(manager.NewUploader(client), manager.NewDownloader(client), client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3StoreWithClients builds a store on pre-built clients.
func NewS3StoreWithClients(u Uploader, d Downloader, del Deleter, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{uploader: u, downloader: d, deleter: del, bucket: bucket, prefix: prefix}
}

// Save streams r to S3 via the multipart uploader.
func (s *S3Store) Save(ctx context.Context, id string, format domain.AudioFormat, r io.Reader) (domain.Artifact, error) {
	if err := validateID(id); err != nil {
		return domain.Artifact{}, err
	}
	key := s.key(id, format)
	cr := &countReader{r: r}

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        cr,
		ContentType: aws.String(format.ContentType()),
	})
	if err != nil {
		// the uploader aborts multipart uploads itself; a single-part PUT never became visible
		return domain.Artifact{}, fmt.Errorf("upload artifact: %w", err)
	}
	if cr.n == 0 {
		_ = s.Delete(ctx, id)
		return domain.Artifact{}, errors.New("upload artifact: empty audio")
	}

	location := "s3://" + s.bucket + "/" + key
	if out != nil && out.Location != "" {
		location = out.Location
	}
	return domain.Artifact{ID: id, Location: location, ContentType: format.ContentType(), Size: cr.n}, nil
}

// Open downloads the artifact into memory. Artifacts are short spoken answers.
func (s *S3Store) Open(ctx context.Context, id string) (io.ReadCloser, domain.Artifact, error) {
	if err := validateID(id); err != nil {
		return nil, domain.Artifact{}, err
	}
	for _, format := range knownFormats {
		key := s.key(id, format)
		buf := manager.NewWriteAtBuffer(nil)
		n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, domain.Artifact{}, fmt.Errorf("download artifact: %w", err)
		}
		art := domain.Artifact{
			ID:          id,
			Location:    "s3://" + s.bucket + "/" + key,
			ContentType: format.ContentType(),
			Size:        n,
		}
		return io.NopCloser(bytes.NewReader(buf.Bytes())), art, nil
	}
	return nil, domain.Artifact{}, fmt.Errorf("%s: %w", id, domain.ErrArtifactNotFound)
}

// Delete removes the artifact in every known format. S3 deletes are idempotent.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	for _, format := range knownFormats {
		_, err := s.deleter.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(id, format)),
		})
		if err != nil {
			return fmt.Errorf("delete artifact: %w", err)
		}
	}
	return nil
}

func (s *S3Store) key(id string, format domain.AudioFormat) string {
	return s.prefix + artifactName(id, format)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

type countReader struct {
	r io.Reader
	n int64
}

func (c *countReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err //nolint:wrapcheck // io.Reader contract
}
