package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// ErrorCode is a machine-readable error identifier returned to clients.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest             ErrorCode = "bad_request"
	ErrorCodeUnauthorized           ErrorCode = "unauthorized"
	ErrorCodeValidationFailed       ErrorCode = "validation_failed"
	ErrorCodeInvalidVoice           ErrorCode = "invalid_voice"
	ErrorCodeArtifactNotFound       ErrorCode = "artifact_not_found"
	ErrorCodeNoExtractableText      ErrorCode = "no_extractable_text"
	ErrorCodeVectorDimMismatch      ErrorCode = "vector_dim_mismatch"
	ErrorCodeRateLimited            ErrorCode = "rate_limited"
	ErrorCodeBudgetExceeded         ErrorCode = "budget_exceeded"
	ErrorCodeEmbeddingProviderError ErrorCode = "embedding_provider_error"
	ErrorCodeConfiguration          ErrorCode = "configuration_error"
	ErrorCodeInternalError          ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

var errorHandlers = []errorHandler{
	sentinelHandler(domain.ErrInvalidVoice, http.StatusBadRequest, ErrorCodeInvalidVoice),
	sentinelHandler(domain.ErrArtifactNotFound, http.StatusNotFound, ErrorCodeArtifactNotFound),
	sentinelHandler(domain.ErrNoExtractableText, http.StatusUnprocessableEntity, ErrorCodeNoExtractableText),
	sentinelHandler(domain.ErrVectorDimMismatch, http.StatusConflict, ErrorCodeVectorDimMismatch),
	sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, ErrorCodeRateLimited),
	sentinelHandler(domain.ErrBudgetExceeded,
		http.StatusPaymentRequired, ErrorCodeBudgetExceeded),
	sentinelHandler(domain.ErrEmbeddingProviderError,
		http.StatusBadGateway, ErrorCodeEmbeddingProviderError),
	sentinelHandler(domain.ErrConfiguration, http.StatusBadGateway, ErrorCodeConfiguration),
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidVoice,
		domain.ErrArtifactNotFound,
		domain.ErrNoExtractableText,
		domain.ErrVectorDimMismatch,
		domain.ErrRateLimited,
		domain.ErrBudgetExceeded,
		domain.ErrEmbeddingProviderError,
		domain.ErrConfiguration,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
