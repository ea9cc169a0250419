package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a competitive intelligence analyst. Answer with exactly what the user asks for."

// OpenAIClient implements Client for the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	config *Config
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(config *Config, apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, ErrModelUnavailable
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		config: config,
	}, nil
}

// NewOpenAIClientWithBaseURL points the client at an OpenAI-compatible endpoint.
func NewOpenAIClientWithBaseURL(config *Config, apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, ErrModelUnavailable
	}
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = baseURL
	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		config: config,
	}, nil
}

func (o *OpenAIClient) complete(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	model := o.config.GetModel(tier)
	if model == "" {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	slog.Debug("openai completion", "model", model, "tier", tier)
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai %s: completion failed: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai %s: no choices in response", model)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateJSON requests a JSON object response using the specified model tier
func (o *OpenAIClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := o.complete(ctx, prompt, tier)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

// GetModel returns the model name for a tier
func (o *OpenAIClient) GetModel(tier ModelTier) string {
	return o.config.GetModel(tier)
}

// Close is a no-op; the underlying HTTP client holds no resources that need releasing.
func (o *OpenAIClient) Close() error {
	return nil
}
