package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
)

// maxPageBytes caps how much of a page HTTPFetcher reads.
const maxPageBytes = 10 << 20

// HTTPFetcher downloads a page directly and converts its HTML to markdown.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
	converter *htmltomarkdown.Converter
}

// NewHTTPFetcher returns an HTTPFetcher with the default user agent.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{},
		UserAgent: DefaultUserAgent,
		converter: newConverter(),
	}
}

// Fetch makes one GET request.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	parsed, err := neturl.Parse(url)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &PermanentFetchError{URL: url, Reason: ReasonInvalidURL, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &PermanentFetchError{URL: url, Reason: ReasonInvalidURL, Cause: err}
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, Retryable(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, Retryable(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(url, resp.StatusCode, body)
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.Contains(contentType, "html") {
		content, err = HTMLToMarkdown(f.converter, content, url)
		if err != nil {
			return nil, &PermanentFetchError{URL: url, Reason: ReasonEmptyContent, Cause: err}
		}
	}

	if strings.TrimSpace(content) == "" {
		return nil, &PermanentFetchError{URL: url, StatusCode: resp.StatusCode, Reason: ReasonEmptyContent}
	}

	return &Result{
		Content: content,
		Metadata: map[string]any{
			"status_code":  resp.StatusCode,
			"content_type": contentType,
			"final_url":    resp.Request.URL.String(),
		},
	}, nil
}
