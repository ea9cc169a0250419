package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonathan/rivalops/internal/briefing"
	"github.com/jonathan/rivalops/internal/config"
	"github.com/jonathan/rivalops/internal/db"
	"github.com/jonathan/rivalops/internal/drift"
	"github.com/jonathan/rivalops/internal/fetch"
	"github.com/jonathan/rivalops/internal/llm"
	"github.com/jonathan/rivalops/internal/notify"
	"github.com/jonathan/rivalops/internal/observability"
	"github.com/jonathan/rivalops/internal/pipeline"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDB(ctx context.Context) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable (or database_url in --config) is required")
	}
	return db.Connect(ctx, cfg.DatabaseURL)
}

// newLLMClient builds the configured provider client. Without a credential it
// returns a client that fails every call with llm.ErrModelUnavailable, so that
// runs are finalized as errors instead of the process refusing to start.
func newLLMClient(ctx context.Context, c *config.Config) (llm.Client, error) {
	llmCfg := llm.NewConfig(c.LLMProvider, c.ModelFast, c.ModelSmart)
	llmCfg.BaseURL = c.OpenAIBaseURL
	client, err := llm.NewClientOrUnavailable(ctx, llmCfg, c.LLMAPIKey())
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	if _, ok := client.(*llm.Unavailable); ok {
		logger.Warn("no model credential configured; analysis will fail", "provider", c.LLMProvider)
	}
	return llm.WithTimeout(client, c.LLMTimeout()), nil
}

// newFetchSource builds the per-strategy retrying fetch router.
func newFetchSource(c *config.Config, metrics *observability.Metrics) fetch.Source {
	return fetch.NewRouter(fetch.RouterConfig{
		FirecrawlAPIKey:  c.FirecrawlAPIKey,
		FirecrawlBaseURL: c.FirecrawlBaseURL,
		Policy: fetch.RetryPolicy{
			MaxRetries:  c.FetchMaxRetries,
			BaseBackoff: c.FetchBackoff(),
			Timeout:     c.FetchTimeout(),
		},
		Logger:    logger,
		OnAttempt: metrics.FetchAttempt,
	})
}

// newOrchestrator wires analyzer, drafter and fetch source into a pipeline.
func newOrchestrator(c *config.Config, store pipeline.Store, source fetch.Source, client llm.Client,
	metrics *observability.Metrics, opts pipeline.Options) *pipeline.Orchestrator {
	analyzer := drift.NewAnalyzer(client, drift.Options{
		GrayLow:    c.GrayZoneLow,
		GrayHigh:   c.GrayZoneHigh,
		Logger:     logger,
		OnEscalate: metrics.Escalated,
	})
	drafter := briefing.NewDrafter(client, logger)

	opts.HistoryWindow = c.HistoryWindow
	opts.Logger = logger
	if opts.Observer == nil && metrics != nil {
		opts.Observer = metrics
	}
	return pipeline.New(store, source, analyzer, drafter, opts)
}

// newDeliverer wires the configured Slack and email channels.
func newDeliverer(c *config.Config, store notify.BriefingStore, metrics *observability.Metrics) *notify.Deliverer {
	slack := notify.NewSlackNotifier(c.SlackWebhookURL)
	email := notify.NewEmailNotifier(notify.EmailConfig{
		SMTPServer: c.SMTPHost,
		SMTPPort:   c.SMTPPort,
		SMTPUser:   c.SMTPUsername,
		SMTPPass:   c.SMTPPassword,
		FromEmail:  c.SMTPFrom,
		ToEmail:    c.SMTPTo,
	})
	d := notify.NewDeliverer(store, c.BaseURL, logger, notify.Configured(slack, email)...)
	d.OnSend = metrics.Delivered
	return d
}
