package health

import (
	"context"
	"sort"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an auxiliary component is failing; queries may still work.
	Degraded Status = "degraded"
	// Unhealthy indicates the vector store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names reported in Checks.
const (
	CheckVectorStore = "vector_store"
	CheckEmbedding   = "embedding"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type namedCheck struct {
	name string
	fn   CheckFunc
}

// Service coordinates health checks.
type Service struct {
	vectors   VectorPinger
	embedding EmbeddingChecker
	extra     []namedCheck
}

// Option configures a Service.
type Option func(*Service)

// WithCheck adds a named auxiliary check, e.g. the Redis embedding cache.
func WithCheck(name string, fn CheckFunc) Option {
	return func(s *Service) { s.extra = append(s.extra, namedCheck{name: name, fn: fn}) }
}

// New creates a Service. embedding can be nil.
func New(vectors VectorPinger, embedding EmbeddingChecker, opts ...Option) *Service {
	s := &Service{vectors: vectors, embedding: embedding}
	for _, o := range opts {
		o(s)
	}
	sort.SliceStable(s.extra, func(i, j int) bool { return s.extra[i].name < s.extra[j].name })
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, 2+len(s.extra))

	checks[CheckVectorStore] = result(s.vectors.Ping(ctx))
	if s.embedding != nil {
		checks[CheckEmbedding] = result(s.embedding.HealthCheck(ctx))
	}
	for _, c := range s.extra {
		checks[c.name] = result(c.fn(ctx))
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if checks[CheckVectorStore] == CheckError {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
