package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/rivalops/internal/config"
	"github.com/jonathan/rivalops/internal/observability"
	"github.com/jonathan/rivalops/internal/pipeline"
	"github.com/jonathan/rivalops/internal/scheduler"
	"github.com/jonathan/rivalops/internal/server"
	"github.com/jonathan/rivalops/internal/server/ratelimit"
)

var (
	servePort       int
	serveWithWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	Long: `Start the HTTP review API: the pending briefing queue, approve and reject decisions
(approval delivers the briefing), on-demand target runs and Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "Also run the scheduler worker in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}

	auth, err := config.NewReviewAuthConfig()
	if err != nil {
		return fmt.Errorf("failed to create reviewer auth config: %w", err)
	}

	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	client, err := newLLMClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	metrics := observability.NewMetrics()
	orchestrator := newOrchestrator(cfg, database, newFetchSource(cfg, metrics), client, metrics, pipeline.Options{})
	deliverer := newDeliverer(cfg, database, metrics)

	srv, err := server.New(server.Config{
		Port:      cfg.Port,
		Auth:      auth,
		RateLimit: ratelimit.LoadConfig(),
		Logger:    logger,
		Metrics:   metrics,
	}, database, orchestrator, deliverer)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if !serveWithWorker {
		return srv.Start(ctx)
	}

	worker := newWorker(database, orchestrator)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	return g.Wait()
}

func newWorker(source scheduler.TargetSource, processor scheduler.Processor) *scheduler.Worker {
	w := scheduler.NewWorker(source, processor, logger)
	w.Interval = cfg.WorkerInterval()
	if cfg.WorkerConcurrency > 0 {
		w.Concurrency = cfg.WorkerConcurrency
	}
	return w
}
