package openai

import (
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ClientConfig holds credentials shared by every OpenAI-compatible adapter.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	// HTTPClient overrides the traced default (tests).
	HTTPClient *http.Client
}

// NewClient creates a go-openai client whose outbound calls are traced.
func NewClient(cfg ClientConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	clientCfg.HTTPClient = httpClient

	return openai.NewClientWithConfig(clientCfg)
}
