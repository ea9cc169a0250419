package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateJSON generates a JSON object using the specified model tier
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GetModel returns the model id configured for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration.
// An empty apiKey yields ErrModelUnavailable.
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if apiKey == "" {
		return nil, ErrModelUnavailable
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	case ProviderOpenAI:
		if config.BaseURL != "" {
			return NewOpenAIClientWithBaseURL(config, apiKey, config.BaseURL)
		}
		return NewOpenAIClient(config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", config.Provider)
	}
}

// NewClientOrUnavailable behaves like NewClient but returns an Unavailable client
// instead of failing when no credential is configured, so that processes that do not
// need a model (review server, migrations) can still start.
func NewClientOrUnavailable(ctx context.Context, config *Config, apiKey string) (Client, error) {
	client, err := NewClient(ctx, config, apiKey)
	if errors.Is(err, ErrModelUnavailable) {
		if config == nil {
			config = DefaultConfig()
		}
		return &Unavailable{Config: config}, nil
	}
	return client, err
}

// Unavailable is a Client whose generation calls always fail with ErrModelUnavailable.
type Unavailable struct {
	Config *Config
}

// GenerateJSON always fails.
func (u *Unavailable) GenerateJSON(context.Context, string, ModelTier) (string, error) {
	return "", ErrModelUnavailable
}

// GetModel reports the configured model id.
func (u *Unavailable) GetModel(tier ModelTier) string {
	if u.Config == nil {
		return ""
	}
	return u.Config.GetModel(tier)
}

// Close is a no-op.
func (u *Unavailable) Close() error { return nil }

// WithTimeout wraps c so that every generation call is bounded by d.
// A non-positive d returns c unchanged.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{Client: c, timeout: d}
}

type timeoutClient struct {
	Client
	timeout time.Duration
}

func (t *timeoutClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.GenerateJSON(ctx, prompt, tier)
}
