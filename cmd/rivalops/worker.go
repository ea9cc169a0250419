package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/rivalops/internal/observability"
	"github.com/jonathan/rivalops/internal/pipeline"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the scheduler that processes due targets",
	Long: `Poll enabled targets every WORKER_INTERVAL_SECONDS and process the ones whose last run
started at least schedule_minutes ago, with at most WORKER_CONCURRENCY runs at a time.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Process the currently due targets once and exit")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

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
	worker := newWorker(database, orchestrator)

	if workerOnce {
		res, err := worker.Tick(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "due=%d succeeded=%d failed=%d skipped=%d\n",
			res.Due, res.Succeeded, res.Failed, res.Skipped)
		return nil
	}
	return worker.Run(ctx)
}
