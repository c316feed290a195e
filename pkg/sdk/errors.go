package voicerag

import (
	"errors"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrConfiguration          = domain.ErrConfiguration
	ErrNoRelevantDocuments    = domain.ErrNoRelevantDocuments
	ErrGeneration             = domain.ErrGeneration
	ErrSynthesis              = domain.ErrSynthesis
	ErrInvalidVoice           = domain.ErrInvalidVoice
	ErrArtifactNotFound       = domain.ErrArtifactNotFound
	ErrNoExtractableText      = domain.ErrNoExtractableText
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrRateLimited            = domain.ErrRateLimited
	ErrBudgetExceeded         = domain.ErrBudgetExceeded
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError

	// errQueryFailed backs QueryError for failures outside the known kinds.
	errQueryFailed = errors.New("query failed")
)

// QueryError reports a pipeline failure. It unwraps to the sentinel of its Kind.
type QueryError struct {
	Kind    string // configuration, no_relevant_documents, generation, synthesis, unknown
	Message string
}

func (e *QueryError) Error() string { return e.Message }

// Unwrap maps Kind back to a sentinel so errors.Is works across the SDK boundary.
func (e *QueryError) Unwrap() error {
	switch domain.ErrorKind(e.Kind) {
	case domain.KindConfiguration:
		return ErrConfiguration
	case domain.KindNoRelevantDocuments:
		return ErrNoRelevantDocuments
	case domain.KindGeneration:
		return ErrGeneration
	case domain.KindSynthesis:
		return ErrSynthesis
	default:
		return errQueryFailed
	}
}
