package fetch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonathan/rivalops/internal/types"
)

// Source fetches the current content of a target using the target's crawl strategy.
type Source interface {
	FetchTarget(ctx context.Context, target *types.Target) (*Result, error)
}

// Router dispatches to one retrying backend per crawl strategy.
type Router struct {
	backends map[types.CrawlStrategy]Fetcher
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	FirecrawlAPIKey  string
	FirecrawlBaseURL string
	Policy           RetryPolicy
	Logger           *slog.Logger
	// OnAttempt observes every attempt of every backend (metrics).
	OnAttempt func(strategy types.CrawlStrategy, attempt int, err error)
}

// NewRouter builds the markdown (Firecrawl), html and browser backends, each
// wrapped in a Retrier with the same policy.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{backends: make(map[types.CrawlStrategy]Fetcher)}
	single := map[types.CrawlStrategy]Fetcher{
		types.CrawlMarkdown: NewFirecrawlFetcher(cfg.FirecrawlAPIKey, cfg.FirecrawlBaseURL),
		types.CrawlHTML:     NewHTTPFetcher(),
		types.CrawlBrowser:  NewBrowserFetcher(logger),
	}
	for strategy, f := range single {
		retrier := NewRetrier(f, cfg.Policy, logger.With("strategy", string(strategy)))
		if cfg.OnAttempt != nil {
			s, hook := strategy, cfg.OnAttempt
			retrier.OnAttempt = func(attempt int, err error) { hook(s, attempt, err) }
		}
		r.backends[strategy] = retrier
	}
	return r
}

// NewStaticRouter routes every strategy to f. f is used as is, without retries.
func NewStaticRouter(f Fetcher) *Router {
	return &Router{backends: map[types.CrawlStrategy]Fetcher{
		types.CrawlMarkdown: f,
		types.CrawlHTML:     f,
		types.CrawlBrowser:  f,
	}}
}

// FetchTarget fetches target.URL with the backend for its strategy.
func (r *Router) FetchTarget(ctx context.Context, target *types.Target) (*Result, error) {
	strategy := target.CrawlStrategy
	if strategy == "" {
		strategy = types.CrawlMarkdown
	}
	f, ok := r.backends[strategy]
	if !ok {
		return nil, &PermanentFetchError{
			URL:    target.URL,
			Reason: ReasonConfig,
			Cause:  fmt.Errorf("no fetcher for crawl strategy %q", strategy),
		}
	}
	return f.Fetch(ctx, target.URL)
}
