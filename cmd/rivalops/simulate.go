package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jonathan/rivalops/internal/db/memdb"
	"github.com/jonathan/rivalops/internal/fetch"
	"github.com/jonathan/rivalops/internal/observability"
	"github.com/jonathan/rivalops/internal/pipeline"
	"github.com/jonathan/rivalops/internal/types"
)

// Pricing page versions replayed by the simulation.
const (
	simulationV1 = `
# RivalCloud Pricing
Current Plan: Professional
Price: $50/month
Features:
- 10 Users
- 100GB Storage
- 24/7 Support
`
	simulationV2 = `
# RivalCloud Pricing
Current Plan: Professional
Price: $75/month
Features:
- 10 Users
- 150GB Storage
- 24/7 Support
- AI Insights (NEW)
`
)

// newSimulationClient builds the model client for simulate. Tests replace it.
var newSimulationClient = newLLMClient

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a pricing change against the configured model",
	Long: `Run the full pipeline twice against an in-memory store: first with a baseline pricing
page, then with a version that raises the price, grows storage and adds a feature.
Uses the configured model provider; no database or network fetch is needed.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}

// replaySource serves one page version per fetch and repeats the last one.
type replaySource struct {
	mu       sync.Mutex
	versions []string
	next     int
}

func (s *replaySource) fetch(context.Context, string) (*fetch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versions) == 0 {
		return nil, errors.New("no content to replay")
	}
	i := min(s.next, len(s.versions)-1)
	s.next++
	return &fetch.Result{
		Content:  s.versions[i],
		Metadata: map[string]any{"status_code": 200, "simulated_version": i + 1},
	}, nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	client, err := newSimulationClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	store := memdb.New()
	competitor := &types.Competitor{Name: "MockCorp", Domain: "mockcorp.com"}
	if err := store.CreateCompetitor(ctx, competitor); err != nil {
		return err
	}
	target := &types.Target{
		CompetitorID:    competitor.ID,
		URL:             "https://mockcorp.com/pricing",
		Label:           "Pricing Page",
		CrawlStrategy:   types.CrawlMarkdown,
		ScheduleMinutes: 60,
		Enabled:         true,
	}
	if err := store.CreateTarget(ctx, target); err != nil {
		return err
	}

	replay := &replaySource{versions: []string{simulationV1, simulationV2}}
	source := fetch.NewStaticRouter(fetch.FetcherFunc(replay.fetch))
	orchestrator := newOrchestrator(cfg, store, source, client, nil, pipeline.Options{})

	printer := observability.NewPrinter(cmd.OutOrStdout())
	out := cmd.OutOrStdout()

	var last *pipeline.RunOutcome
	for i, label := range []string{"Version A (baseline)", "Version B (price increase)"} {
		_, _ = fmt.Fprintf(out, "\n--- Simulating %s ---\n", label)
		outcome, err := orchestrator.Process(ctx, target.ID)
		if outcome != nil {
			printer.PrintRunOutcome(outcome)
		}
		if err != nil {
			return fmt.Errorf("simulated run %d failed: %w", i+1, err)
		}
		last = outcome
	}

	if last.AnalysisID != nil {
		analysis, err := store.GetAnalysisByRun(ctx, last.RunID)
		if err != nil {
			return err
		}
		printer.PrintAnalysis(analysis)
	}
	if last.BriefingID == nil {
		_, _ = fmt.Fprintln(out, "No briefing was drafted for the price change. Check the analysis above.")
		return nil
	}
	b, err := store.GetBriefing(ctx, *last.BriefingID)
	if err != nil {
		return err
	}
	printer.PrintBriefing(b)
	return nil
}
