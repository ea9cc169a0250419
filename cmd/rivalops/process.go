package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/rivalops/internal/observability"
	"github.com/jonathan/rivalops/internal/pipeline"
)

var (
	processReanalyze bool
	processJSON      bool
)

var processCmd = &cobra.Command{
	Use:   "process <target-id>",
	Short: "Run the pipeline once for a target",
	Long: `Fetch the target, store a snapshot, analyze drift against recent history and, on drift,
draft a briefing for review. Prints the run outcome.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processReanalyze, "reanalyze", false, "Analyze even if this content was already analyzed")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "Print the outcome as JSON")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	targetID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid target id %q: %w", args[0], err)
	}

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

	opts := pipeline.Options{ReanalyzeUnchanged: processReanalyze}
	if cfg.Verbose {
		opts.OnProgress = func(e pipeline.ProgressEvent) {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  -> %s\n", e.Phase)
		}
	}
	orchestrator := newOrchestrator(cfg, database, newFetchSource(cfg, nil), client, nil, opts)

	outcome, runErr := orchestrator.Process(ctx, targetID)
	if outcome != nil {
		if err := printOutcome(cmd, outcome); err != nil {
			return err
		}
	}
	return runErr
}

func printOutcome(cmd *cobra.Command, outcome *pipeline.RunOutcome) error {
	if processJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintRunOutcome(outcome)
	return nil
}
