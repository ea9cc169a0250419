// Package llm provides model configuration and provider clients for drift analysis and briefing drafts.
package llm

// ModelTier selects between the cheap first-pass model and the stronger escalation model.
type ModelTier string

const (
	// TierFast is used for every first-pass analysis and for briefing drafts
	TierFast ModelTier = "fast"
	// TierSmart is used only when a fast score falls in the gray zone
	TierSmart ModelTier = "smart"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Config holds the model configuration for the application
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
	// BaseURL points the OpenAI provider at a compatible endpoint. Empty uses the public API.
	BaseURL string
}

// DefaultConfig returns the default configuration (OpenAI).
func DefaultConfig() *Config {
	return DefaultOpenAIConfig()
}

// DefaultOpenAIConfig returns the default OpenAI configuration.
func DefaultOpenAIConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Models: map[ModelTier]string{
			TierFast:  "gpt-4o-mini",
			TierSmart: "gpt-4o",
		},
	}
}

// DefaultGeminiConfig returns the default Gemini configuration.
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierFast:  "gemini-2.5-flash",
			TierSmart: "gemini-2.5-pro",
		},
	}
}

// NewConfig builds a Config for provider, overriding the provider defaults with
// any non-empty model ids.
func NewConfig(provider, fastModel, smartModel string) *Config {
	cfg := DefaultOpenAIConfig()
	if Provider(provider) == ProviderGemini {
		cfg = DefaultGeminiConfig()
	}
	if fastModel != "" {
		cfg = cfg.WithModel(TierFast, fastModel)
	}
	if smartModel != "" {
		cfg = cfg.WithModel(TierSmart, smartModel)
	}
	return cfg
}

// GetModel returns the model name for a given tier, or "" when the tier is not configured.
// There is no fallback between tiers: an unset smart tier disables escalation.
func (c *Config) GetModel(tier ModelTier) string {
	return c.Models[tier]
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider: c.Provider,
		Models:   make(map[ModelTier]string),
		BaseURL:  c.BaseURL,
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
