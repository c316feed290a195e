// Package qdrant is the Qdrant gRPC vector backend.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

const defaultGRPCPort = "6334"

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

type healthAPI interface {
	HealthCheck(ctx context.Context, in *pb.HealthCheckRequest, opts ...grpc.CallOption) (*pb.HealthCheckReply, error)
}

// Config holds Qdrant connection settings.
type Config struct {
	URL     string // host:port or http(s)://host[:port]; https implies TLS
	APIKey  string
	UseTLS  bool
	Timeout time.Duration // per call, 0 = none
}

// Backend talks to Qdrant over gRPC.
type Backend struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	health      healthAPI
	timeout     time.Duration
}

// New dials Qdrant. The connection is lazy; failures surface on the first call.
func New(cfg Config) (*Backend, error) {
	addr, useTLS, err := parseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	useTLS = useTLS || cfg.UseTLS

	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %v: %w", addr, err, domain.ErrConfiguration) //nolint:errorlint // sentinel wrapped
	}

	b := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), pb.NewQdrantClient(conn), cfg.Timeout)
	b.conn = conn
	return b, nil
}

// NewWithClients builds a backend on pre-built gRPC clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, health healthAPI, timeout time.Duration) *Backend {
	return &Backend{
		points:      points,
		collections: collections,
		health:      health,
		timeout:     timeout,
	}
}

// Close closes the underlying gRPC connection.
func (b *Backend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close() //nolint:wrapcheck // passthrough
}

// CreateCollection creates a single-vector collection with cosine distance.
func (b *Backend) CreateCollection(ctx context.Context, name string, dim int) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	_, err := b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim), //nolint:gosec // dim is a positive embedding length
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		if isAlreadyExists(err) {
			return domain.ErrCollectionExists
		}
		return mapError("create collection", err)
	}
	return nil
}

// CollectionDimension reads the vector size from the collection config.
func (b *Backend) CollectionDimension(ctx context.Context, name string) (int, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	resp, err := b.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return 0, mapError("get collection", err)
	}

	size := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size == 0 {
		return 0, fmt.Errorf("collection %q has no single unnamed vector", name)
	}
	return int(size), nil //nolint:gosec // vector sizes fit in int
}

// Upsert writes one point and waits for it to be applied.
func (b *Backend) Upsert(ctx context.Context, collection string, p domain.StoredVector) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	payload := make(map[string]*pb.Value, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = toValue(v)
	}

	wait := true
	_, err := b.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID.String()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return mapError("upsert", err)
	}
	return nil
}

// Search performs k-NN similarity search with payloads.
func (b *Backend) Search(ctx context.Context, collection string, vector []float32, limit int) ([]domain.SearchHit, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	resp, err := b.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit), //nolint:gosec // limit is positive
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, mapError("search", err)
	}

	hits := make([]domain.SearchHit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		hit := domain.SearchHit{ID: pointID(r.GetId()), Score: r.GetScore()}
		if len(r.GetPayload()) > 0 {
			hit.Payload = make(map[string]any, len(r.GetPayload()))
			for k, v := range r.GetPayload() {
				hit.Payload[k] = fromValue(v)
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Ping calls the Qdrant health endpoint.
func (b *Backend) Ping(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if _, err := b.health.HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return mapError("health check", err)
	}
	return nil
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context, method string, req, reply any,
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
	) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func parseURL(raw string) (addr string, useTLS bool, err error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "https://"):
		raw, useTLS = strings.TrimPrefix(raw, "https://"), true
	case strings.HasPrefix(raw, "http://"):
		raw = strings.TrimPrefix(raw, "http://")
	}
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return "", false, fmt.Errorf("qdrant url is empty: %w", domain.ErrConfiguration)
	}
	if _, _, splitErr := net.SplitHostPort(raw); splitErr != nil {
		raw = net.JoinHostPort(raw, defaultGRPCPort)
	}
	return raw, useTLS, nil
}

func isAlreadyExists(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	return st.Code() == codes.AlreadyExists || strings.Contains(strings.ToLower(st.Message()), "already exists")
}

func mapError(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("qdrant %s: %w", op, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("qdrant %s: %s: %w", op, st.Message(), domain.ErrConfiguration)
	case codes.NotFound:
		return fmt.Errorf("qdrant %s: %s: %w", op, st.Message(), domain.ErrCollectionNotFound)
	default:
		return fmt.Errorf("qdrant %s: %w", op, err)
	}
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprint(id.GetNum())
}
