package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/azure"
	"github.com/openai/openai-go/v2/option"

	"github.com/hubenschmidt/telecaller/internal/metrics"
)

// OpenAIConfig selects either the OpenAI API (APIKey, optional BaseURL) or
// Azure OpenAI (AzureEndpoint set).
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	AzureEndpoint   string
	AzureAPIKey     string
	AzureAPIVersion string
	AzureDeployment string
	MaxTokens       int
	Temperature     float64
	PoolSize        int
	Timeout         time.Duration
}

// OpenAIEngine completes chats through the openai-go client.
type OpenAIEngine struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewOpenAIEngine builds the client. Retries are left to RetryPolicy.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(NewPooledHTTPClient(cfg.PoolSize, cfg.Timeout)),
		option.WithMaxRetries(0),
	}
	model := cfg.Model
	if cfg.AzureEndpoint != "" {
		opts = append(opts,
			azure.WithEndpoint(cfg.AzureEndpoint, cfg.AzureAPIVersion),
			azure.WithAPIKey(cfg.AzureAPIKey),
		)
		if cfg.AzureDeployment != "" {
			model = cfg.AzureDeployment
		}
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	return &OpenAIEngine{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}
}

// Complete implements ChatEngine.
func (e *OpenAIEngine) Complete(ctx context.Context, system string, messages []ChatMessage) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(e.model),
		Messages:         toOpenAIMessages(system, messages),
		MaxTokens:        openai.Int(e.maxTokens),
		Temperature:      openai.Float(e.temperature),
		TopP:             openai.Float(0.95),
		FrequencyPenalty: openai.Float(0.5),
		PresencePenalty:  openai.Float(0.2),
	}

	start := time.Now()
	resp, err := e.client.Chat.Completions.New(ctx, params)
	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(system string, messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range messages {
		if m.Role == "assistant" {
			out = append(out, openai.AssistantMessage(m.Content))
			continue
		}
		out = append(out, openai.UserMessage(m.Content))
	}
	return out
}

// classifyOpenAIError marks client errors other than rate limiting as
// permanent so they are not retried.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}
	code := apiErr.StatusCode
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
		return fmt.Errorf("openai status %d: %w: %v", code, ErrPermanent, err)
	}
	return fmt.Errorf("openai status %d: %w", code, err)
}
