package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration signals missing or rejected credentials and settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrNoRelevantDocuments signals an empty retrieval result.
	ErrNoRelevantDocuments = errors.New("No relevant documents found in the vector database") //nolint:staticcheck // user-facing message
	// ErrGeneration signals an answer generator or voice director failure.
	ErrGeneration = errors.New("generation failed")
	// ErrSynthesis signals a speech synthesis, playback or artifact failure.
	ErrSynthesis = errors.New("synthesis failed")

	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrCollectionExists signals that the backend already holds the collection.
	ErrCollectionExists = errors.New("collection already exists")
	// ErrCollectionNotFound signals a missing collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrInvalidVoice signals an unsupported voice name.
	ErrInvalidVoice = errors.New("invalid voice")
	// ErrArtifactNotFound signals a missing audio artifact.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrNoExtractableText signals a document without any text to index.
	ErrNoExtractableText = errors.New("no extractable text")

	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrBudgetExceeded signals an exhausted provider budget on some meter.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// DimensionError wraps ErrVectorDimMismatch with both sides of the comparison.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrVectorDimMismatch.Error(), e.Want, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrVectorDimMismatch }

// NewDimensionError creates a dimension mismatch error.
func NewDimensionError(want, got int) error {
	return &DimensionError{Want: want, Got: got}
}

// ErrorKind classifies a query failure for callers.
type ErrorKind string

const (
	// KindConfiguration covers missing or rejected credentials.
	KindConfiguration ErrorKind = "configuration"
	// KindNoRelevantDocuments covers an empty search result.
	KindNoRelevantDocuments ErrorKind = "no_relevant_documents"
	// KindGeneration covers answer and voice-direction failures.
	KindGeneration ErrorKind = "generation"
	// KindSynthesis covers speech, playback and artifact failures.
	KindSynthesis ErrorKind = "synthesis"
	// KindUnknown covers everything else, including vector store faults.
	KindUnknown ErrorKind = "unknown"
)

// KindOf maps an error chain to its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNoRelevantDocuments):
		return KindNoRelevantDocuments
	case errors.Is(err, ErrGeneration):
		return KindGeneration
	case errors.Is(err, ErrSynthesis):
		return KindSynthesis
	default:
		return KindUnknown
	}
}
