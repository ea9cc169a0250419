// Package fetch acquires the current content of a monitored page as markdown.
//
// Each backend makes a single attempt and classifies its failure as retryable or
// permanent; Retrier adds bounded exponential backoff on top.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
)

// DefaultTimeout is the default per-attempt timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; RivalOps/1.0)"

// maxBodyInError caps how much of an upstream body is kept on an error.
const maxBodyInError = 2048

// Result is the content of one successful fetch.
type Result struct {
	Content  string
	Metadata map[string]any
}

// Fetcher retrieves the content at a URL in a single attempt.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (*Result, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*Result, error) {
	return f(ctx, url)
}

// transientStatuses are upstream statuses worth retrying.
var transientStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsTransientStatus reports whether an HTTP status should be retried.
func IsTransientStatus(code int) bool {
	return transientStatuses[code]
}

// classifyStatus turns a non-2xx response into a retryable or permanent error.
func classifyStatus(url string, code int, body []byte) error {
	if IsTransientStatus(code) {
		return &retryableError{StatusCode: code, Cause: fmt.Errorf("upstream status %d", code)}
	}
	return &PermanentFetchError{
		URL:        url,
		StatusCode: code,
		Body:       truncate(string(body), maxBodyInError),
		Reason:     ReasonUpstream,
	}
}

// truncate cuts s to at most n bytes without leaving a partial rune behind.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

func newConverter() *htmltomarkdown.Converter {
	return htmltomarkdown.NewConverter(
		htmltomarkdown.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
}

// HTMLToMarkdown converts a page to markdown, resolving relative links against pageURL.
// If conversion yields nothing it falls back to the page's main text.
func HTMLToMarkdown(conv *htmltomarkdown.Converter, html, pageURL string) (string, error) {
	if conv == nil {
		conv = newConverter()
	}
	md, err := conv.ConvertString(html, htmltomarkdown.WithDomain(pageURL))
	if err == nil && strings.TrimSpace(md) != "" {
		return strings.TrimSpace(md), nil
	}

	text, terr := ExtractMainText(html, DefaultTextSelectors())
	if terr != nil {
		if err != nil {
			return "", fmt.Errorf("failed to convert HTML: %w", err)
		}
		return "", terr
	}
	return text, nil
}

// ExtractMainText parses HTML and returns the main body text.
// It removes noise elements using noiseSelectors, then finds content using contentSelectors.
// If no content selectors match, it falls back to the body element.
func ExtractMainText(html string, contentSelectors []string, noiseSelectors ...string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("nav, footer, header, script, style, noscript, .ad, .advertisement, .ads, .sidebar, .cookie-banner, .popup").Remove()
	if len(noiseSelectors) > 0 {
		doc.Find(strings.Join(noiseSelectors, ", ")).Remove()
	}

	var mainContent *goquery.Selection
	for _, selector := range contentSelectors {
		if selection := doc.Find(selector); selection.Length() > 0 {
			mainContent = selection.First()
			break
		}
	}
	if mainContent == nil {
		mainContent = doc.Find("body")
	}

	return cleanWhitespace(mainContent.Text()), nil
}

// DefaultTextSelectors returns standard selectors for marketing and pricing pages.
func DefaultTextSelectors() []string {
	return []string{
		"main",
		"article",
		"#pricing",
		".pricing",
		".content",
		"#content",
		".main-content",
		"#main-content",
	}
}

func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
