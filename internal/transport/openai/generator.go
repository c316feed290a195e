package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/domain"
	"github.com/kailas-cloud/voicerag/internal/metrics"
)

// Generator is a one-shot chat completion with a fixed system prompt.
// The answer generator and the voice director are two Generators with different roles.
type Generator struct {
	client       *openai.Client
	model        string
	role         Role
	systemPrompt string
	temperature  float32
	budget       domain.Budget
	logger       *zap.Logger
}

// GeneratorConfig holds chat completion settings.
type GeneratorConfig struct {
	Model        string
	Role         Role
	SystemPrompt string // empty = role default
	Temperature  float32
	Budget       domain.Budget // nil = unmetered
	Logger       *zap.Logger
}

// NewGenerator creates a chat-completion generator on a shared client.
func NewGenerator(client *openai.Client, cfg GeneratorConfig) *Generator {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultAnswerPrompt
		if cfg.Role == RoleDirector {
			prompt = DefaultDirectorPrompt
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:       client,
		model:        cfg.Model,
		role:         cfg.Role,
		systemPrompt: prompt,
		temperature:  cfg.Temperature,
		budget:       cfg.Budget,
		logger:       logger,
	}
}

// Generate sends input as the user message and returns the first choice.
// Every failure wraps domain.ErrGeneration. Tokens are charged even when the
// completion turns out blank.
func (g *Generator) Generate(ctx context.Context, input string) (string, error) {
	role := string(g.role)
	if g.budget != nil {
		if err := g.budget.Check(ctx, domain.MeterGenerationTokens); err != nil {
			metrics.GenerationRequestsTotal.WithLabelValues(role, g.model, "rejected").Inc()
			return "", fmt.Errorf("%s: %w: %w", role, domain.ErrGeneration, err)
		}
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		Temperature: g.temperature,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(role, g.model, "error").Inc()
		return "", parseAPIError(role, err, domain.ErrGeneration)
	}
	domain.UsageFromContext(ctx).AddGenerationTokens(resp.Usage.TotalTokens)
	if g.budget != nil {
		g.budget.Record(domain.MeterGenerationTokens, int64(resp.Usage.TotalTokens))
	}

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(role, g.model, "error").Inc()
		return "", fmt.Errorf("%s: empty completion: %w", role, domain.ErrGeneration)
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		metrics.GenerationRequestsTotal.WithLabelValues(role, g.model, "error").Inc()
		return "", fmt.Errorf("%s: blank completion (finish_reason=%s): %w",
			role, resp.Choices[0].FinishReason, domain.ErrGeneration)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(role, g.model, "success").Inc()
	metrics.GenerationTokensTotal.WithLabelValues(role, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.GenerationTokensTotal.WithLabelValues(role, "completion").Add(float64(resp.Usage.CompletionTokens))

	g.logger.Debug("Completion finished",
		zap.String("role", role),
		zap.String("model", g.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return out, nil
}
