package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// parseAPIError extracts a human-readable error from the API response and wraps it with
// the adapter's sentinel. Rejected credentials additionally carry domain.ErrConfiguration.
func parseAPIError(what string, err error, wrap error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return withStatus(fmt.Errorf("%s API error %d: %s: %w",
			what, reqErr.HTTPStatusCode, detail, wrap), reqErr.HTTPStatusCode)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return withStatus(fmt.Errorf("%s API error %d: %s: %w",
			what, apiErr.HTTPStatusCode, apiErr.Message, wrap), apiErr.HTTPStatusCode)
	}

	return fmt.Errorf("%s request failed: %v: %w", what, err, wrap) //nolint:errorlint // cause kept as text, sentinel wrapped
}

func withStatus(err error, status int) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: %w", err, domain.ErrConfiguration)
	}
	return err
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius-style proxies).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
