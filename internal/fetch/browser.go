package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/chromedp/chromedp"
)

// DefaultSettleTime is how long BrowserFetcher waits for client-side rendering.
const DefaultSettleTime = 3 * time.Second

// BrowserFetcher renders JavaScript-heavy pages in headless Chrome.
// Requires Chrome/Chromium to be installed on the system.
type BrowserFetcher struct {
	SettleTime time.Duration
	Logger     *slog.Logger

	// render returns a page's HTML; replaced in tests.
	render    func(ctx context.Context, url string, settle time.Duration) (string, error)
	converter *htmltomarkdown.Converter
}

// NewBrowserFetcher returns a BrowserFetcher using chromedp.
func NewBrowserFetcher(logger *slog.Logger) *BrowserFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserFetcher{
		SettleTime: DefaultSettleTime,
		Logger:     logger,
		render:     renderWithChrome,
		converter:  newConverter(),
	}
}

// Fetch renders the page once. Browser failures are retryable.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	render := f.render
	if render == nil {
		render = renderWithChrome
	}

	start := time.Now()
	html, err := render(ctx, url, f.SettleTime)
	if err != nil {
		return nil, Retryable(err)
	}
	if f.Logger != nil {
		f.Logger.Debug("browser rendered page", "url", url, "bytes", len(html), "elapsed", time.Since(start))
	}

	content, err := HTMLToMarkdown(f.converter, html, url)
	if err != nil || strings.TrimSpace(content) == "" {
		return nil, &PermanentFetchError{URL: url, Reason: ReasonEmptyContent, Cause: err}
	}

	return &Result{
		Content: content,
		Metadata: map[string]any{
			"renderer":      "chromedp",
			"html_bytes":    len(html),
			"render_millis": time.Since(start).Milliseconds(),
		},
	}, nil
}

func renderWithChrome(ctx context.Context, url string, settle time.Duration) (string, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(DefaultUserAgent),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settle),
		// Dismiss common cookie banners; absence is not an error
		chromedp.ActionFunc(func(ctx context.Context) error {
			_ = chromedp.Click(`button[id*="accept"], button[class*="accept"]`, chromedp.AtLeast(0)).Do(ctx)
			return nil
		}),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}
	return html, nil
}
