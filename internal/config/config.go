// Package config provides configuration loading and validation for rivalops.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds every tunable of the pipeline, worker and review server.
// Values come from a JSON file, the environment, and Defaults, in that order of precedence.
type Config struct {
	// Storage
	DatabaseURL string `json:"database_url,omitempty"`

	// Language models
	LLMProvider       string `json:"llm_provider,omitempty"` // "openai" or "gemini"
	OpenAIAPIKey      string `json:"openai_api_key,omitempty"`
	OpenAIBaseURL     string `json:"openai_base_url,omitempty"` // OpenAI-compatible endpoint; empty uses api.openai.com
	GeminiAPIKey      string `json:"gemini_api_key,omitempty"`
	ModelFast         string `json:"model_fast,omitempty"`
	ModelSmart        string `json:"model_smart,omitempty"`
	LLMTimeoutSeconds int    `json:"llm_timeout_seconds,omitempty"`

	// Fetching
	FirecrawlAPIKey     string  `json:"firecrawl_api_key,omitempty"`
	FirecrawlBaseURL    string  `json:"firecrawl_base_url,omitempty"`
	FetchMaxRetries     int     `json:"fetch_max_retries,omitempty"`
	FetchBackoffSeconds float64 `json:"fetch_backoff_seconds,omitempty"`
	FetchTimeoutSeconds int     `json:"fetch_timeout_seconds,omitempty"`

	// Analysis
	HistoryWindow int     `json:"history_window,omitempty"`
	GrayZoneLow   float64 `json:"gray_zone_low,omitempty"`
	GrayZoneHigh  float64 `json:"gray_zone_high,omitempty"`

	// Delivery
	SlackWebhookURL string `json:"slack_webhook_url,omitempty"`
	SMTPHost        string `json:"smtp_host,omitempty"`
	SMTPPort        int    `json:"smtp_port,omitempty"`
	SMTPUsername    string `json:"smtp_username,omitempty"`
	SMTPPassword    string `json:"smtp_password,omitempty"`
	SMTPFrom        string `json:"smtp_from,omitempty"`
	SMTPTo          string `json:"smtp_to,omitempty"`
	BaseURL         string `json:"base_url,omitempty"` // Public URL of the review UI, used in links

	// Server and worker
	Port                  int `json:"port,omitempty"`
	WorkerIntervalSeconds int `json:"worker_interval_seconds,omitempty"`
	WorkerConcurrency     int `json:"worker_concurrency,omitempty"`

	// Output
	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"` // "text" or "json"
	Verbose   bool   `json:"verbose,omitempty"`
}

// MaxFetchRetries bounds fetch_max_retries; exponential backoff past this many
// attempts would wait for hours.
const MaxFetchRetries = 10

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LLMProvider:           "openai",
		ModelFast:             "gpt-4o-mini",
		ModelSmart:            "gpt-4o",
		LLMTimeoutSeconds:     120,
		FirecrawlBaseURL:      "https://api.firecrawl.dev",
		FetchMaxRetries:       3,
		FetchBackoffSeconds:   2,
		FetchTimeoutSeconds:   30,
		HistoryWindow:         3,
		GrayZoneLow:           0.45,
		GrayZoneHigh:          0.65,
		SMTPPort:              587,
		BaseURL:               "http://localhost:8000",
		Port:                  8000,
		WorkerIntervalSeconds: 60,
		WorkerConcurrency:     4,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv reads configuration from environment variables.
// Unset variables leave the corresponding field at its zero value.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LLMProvider:      os.Getenv("LLM_PROVIDER"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		ModelFast:        os.Getenv("OPENAI_MODEL_FAST"),
		ModelSmart:       os.Getenv("OPENAI_MODEL_SMART"),
		FirecrawlAPIKey:  os.Getenv("FIRECRAWL_API_KEY"),
		FirecrawlBaseURL: os.Getenv("FIRECRAWL_BASE_URL"),
		SlackWebhookURL:  os.Getenv("SLACK_WEBHOOK_URL"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:         os.Getenv("SMTP_FROM"),
		SMTPTo:           os.Getenv("SMTP_TO"),
		BaseURL:          os.Getenv("RIVALOPS_BASE_URL"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		LogFormat:        os.Getenv("LOG_FORMAT"),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"LLM_TIMEOUT_SECONDS", &cfg.LLMTimeoutSeconds},
		{"FETCH_MAX_RETRIES", &cfg.FetchMaxRetries},
		{"FETCH_TIMEOUT_SECONDS", &cfg.FetchTimeoutSeconds},
		{"HISTORY_WINDOW", &cfg.HistoryWindow},
		{"SMTP_PORT", &cfg.SMTPPort},
		{"PORT", &cfg.Port},
		{"WORKER_INTERVAL_SECONDS", &cfg.WorkerIntervalSeconds},
		{"WORKER_CONCURRENCY", &cfg.WorkerConcurrency},
	}
	for _, v := range ints {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %v", v.name, err)
		}
		*v.dst = n
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"FETCH_BACKOFF_SECONDS", &cfg.FetchBackoffSeconds},
		{"GRAY_ZONE_LOW", &cfg.GrayZoneLow},
		{"GRAY_ZONE_HIGH", &cfg.GrayZoneHigh},
	}
	for _, v := range floats {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %v", v.name, err)
		}
		*v.dst = f
	}

	return cfg, nil
}

// Validate checks that the configuration has valid values.
// Credentials are not required here; components fail on first use without them.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "", "openai", "gemini":
	default:
		return fmt.Errorf("config error: unknown llm_provider %q", c.LLMProvider)
	}

	if c.FetchMaxRetries < 0 || c.FetchMaxRetries > MaxFetchRetries {
		return fmt.Errorf("config error: 'fetch_max_retries' must be between 0 and %d", MaxFetchRetries)
	}
	if c.FetchBackoffSeconds < 0 {
		return fmt.Errorf("config error: 'fetch_backoff_seconds' must be non-negative")
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("config error: 'history_window' must be non-negative")
	}
	if c.GrayZoneLow < 0 || c.GrayZoneHigh > 1 || c.GrayZoneLow > c.GrayZoneHigh {
		return fmt.Errorf("config error: gray zone [%.2f, %.2f] must lie within [0, 1] with low <= high",
			c.GrayZoneLow, c.GrayZoneHigh)
	}
	if c.WorkerConcurrency < 0 {
		return fmt.Errorf("config error: 'worker_concurrency' must be non-negative")
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("config error: unknown log_format %q", c.LogFormat)
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero-valued fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	strs := []struct{ dst, def *string }{
		{&result.DatabaseURL, &defaults.DatabaseURL},
		{&result.LLMProvider, &defaults.LLMProvider},
		{&result.OpenAIAPIKey, &defaults.OpenAIAPIKey},
		{&result.OpenAIBaseURL, &defaults.OpenAIBaseURL},
		{&result.GeminiAPIKey, &defaults.GeminiAPIKey},
		{&result.ModelFast, &defaults.ModelFast},
		{&result.ModelSmart, &defaults.ModelSmart},
		{&result.FirecrawlAPIKey, &defaults.FirecrawlAPIKey},
		{&result.FirecrawlBaseURL, &defaults.FirecrawlBaseURL},
		{&result.SlackWebhookURL, &defaults.SlackWebhookURL},
		{&result.SMTPHost, &defaults.SMTPHost},
		{&result.SMTPUsername, &defaults.SMTPUsername},
		{&result.SMTPPassword, &defaults.SMTPPassword},
		{&result.SMTPFrom, &defaults.SMTPFrom},
		{&result.SMTPTo, &defaults.SMTPTo},
		{&result.BaseURL, &defaults.BaseURL},
		{&result.LogLevel, &defaults.LogLevel},
		{&result.LogFormat, &defaults.LogFormat},
	}
	for _, s := range strs {
		if *s.dst == "" {
			*s.dst = *s.def
		}
	}

	ints := []struct{ dst, def *int }{
		{&result.LLMTimeoutSeconds, &defaults.LLMTimeoutSeconds},
		{&result.FetchMaxRetries, &defaults.FetchMaxRetries},
		{&result.FetchTimeoutSeconds, &defaults.FetchTimeoutSeconds},
		{&result.HistoryWindow, &defaults.HistoryWindow},
		{&result.SMTPPort, &defaults.SMTPPort},
		{&result.Port, &defaults.Port},
		{&result.WorkerIntervalSeconds, &defaults.WorkerIntervalSeconds},
		{&result.WorkerConcurrency, &defaults.WorkerConcurrency},
	}
	for _, i := range ints {
		if *i.dst == 0 {
			*i.dst = *i.def
		}
	}

	floats := []struct{ dst, def *float64 }{
		{&result.FetchBackoffSeconds, &defaults.FetchBackoffSeconds},
		{&result.GrayZoneLow, &defaults.GrayZoneLow},
		{&result.GrayZoneHigh, &defaults.GrayZoneHigh},
	}
	for _, f := range floats {
		if *f.dst == 0 {
			*f.dst = *f.def
		}
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// Load resolves the effective configuration: the optional JSON file at path,
// then the environment, then Defaults.
func Load(path string) (*Config, error) {
	env, err := FromEnv()
	if err != nil {
		return nil, err
	}

	file := &Config{}
	if path != "" {
		file, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	merged := file.MergeWithDefaults(env.MergeWithDefaults(Defaults()))
	merged.Verbose = file.Verbose || env.Verbose
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// FetchBackoff is the base delay between fetch attempts.
func (c *Config) FetchBackoff() time.Duration {
	return time.Duration(c.FetchBackoffSeconds * float64(time.Second))
}

// FetchTimeout bounds a single fetch attempt.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// LLMTimeout bounds a single model call.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// WorkerInterval is the delay between scheduler ticks.
func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.WorkerIntervalSeconds) * time.Second
}

// LLMAPIKey returns the credential for the configured provider.
func (c *Config) LLMAPIKey() string {
	if c.LLMProvider == "gemini" {
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}
