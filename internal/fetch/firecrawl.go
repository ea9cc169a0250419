package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultFirecrawlBaseURL is the hosted Firecrawl API.
const DefaultFirecrawlBaseURL = "https://api.firecrawl.dev"

// FirecrawlFetcher scrapes pages to markdown through the Firecrawl API.
type FirecrawlFetcher struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewFirecrawlFetcher returns a fetcher for the given credential and base URL.
func NewFirecrawlFetcher(apiKey, baseURL string) *FirecrawlFetcher {
	if baseURL == "" {
		baseURL = DefaultFirecrawlBaseURL
	}
	return &FirecrawlFetcher{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

// Fetch makes one scrape request.
func (f *FirecrawlFetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	if f.APIKey == "" {
		return nil, &PermanentFetchError{
			URL:    url,
			Reason: ReasonConfig,
			Cause:  fmt.Errorf("FIRECRAWL_API_KEY is not configured"),
		}
	}

	payload, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return nil, &PermanentFetchError{URL: url, Reason: ReasonInvalidURL, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+"/v2/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, &PermanentFetchError{URL: url, Reason: ReasonConfig, Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+f.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, Retryable(fmt.Errorf("firecrawl request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Retryable(fmt.Errorf("failed to read firecrawl response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(url, resp.StatusCode, body)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentFetchError{
			URL:    url,
			Body:   truncate(string(body), maxBodyInError),
			Reason: ReasonEmptyContent,
			Cause:  fmt.Errorf("response is not a JSON object: %w", err),
		}
	}

	content := extractContent(raw)
	if strings.TrimSpace(content) == "" {
		return nil, &PermanentFetchError{
			URL:    url,
			Body:   truncate(string(body), maxBodyInError),
			Reason: ReasonEmptyContent,
		}
	}

	meta := map[string]any{
		"status_code":   resp.StatusCode,
		"firecrawl_raw": raw,
	}
	if data, ok := raw["data"].(map[string]any); ok {
		if sm, ok := data["metadata"].(map[string]any); ok {
			meta["source_metadata"] = sm
		}
	}
	return &Result{Content: content, Metadata: meta}, nil
}

// extractContent looks for page text in the response shapes Firecrawl has used:
// data.markdown, markdown, data.content, content.
func extractContent(raw map[string]any) string {
	data, _ := raw["data"].(map[string]any)
	candidates := []any{
		lookup(data, "markdown"),
		raw["markdown"],
		lookup(data, "content"),
		raw["content"],
	}
	for _, c := range candidates {
		if s, ok := c.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func lookup(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}
