package health

import "context"

// VectorPinger checks vector backend availability.
type VectorPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc is an additional named dependency check.
type CheckFunc func(ctx context.Context) error
