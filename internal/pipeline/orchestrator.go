// Package pipeline runs the per-target monitoring pipeline: fetch, deduplicate,
// analyze and, on drift, draft a briefing for review.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/db"
	"github.com/jonathan/rivalops/internal/fetch"
	"github.com/jonathan/rivalops/internal/snapshot"
	"github.com/jonathan/rivalops/internal/types"
)

// DefaultHistoryWindow is the number of prior snapshots given to the analyzer.
const DefaultHistoryWindow = 3

// Store is the persistence the orchestrator needs.
type Store interface {
	RunStore
	snapshot.Repository
	GetTarget(ctx context.Context, id uuid.UUID) (*types.Target, error)
	LatestCompletedSnapshotID(ctx context.Context, targetID uuid.UUID) (*uuid.UUID, error)
	SaveAnalysis(ctx context.Context, a *types.Analysis) error
	CreateBriefing(ctx context.Context, b *types.Briefing) error
}

// Analyzer classifies a snapshot against its history.
type Analyzer interface {
	Analyze(ctx context.Context, target *types.Target, snap *types.Snapshot, history []string) (*types.Analysis, error)
}

// Drafter writes a briefing for a drift analysis.
type Drafter interface {
	Draft(ctx context.Context, target *types.Target, analysis *types.Analysis) (*types.Briefing, error)
}

// RunObserver receives finished runs, e.g. for metrics.
type RunObserver interface {
	RunFinished(status types.RunStatus, duration time.Duration)
}

// ProgressEvent is emitted on every phase change of a run.
type ProgressEvent struct {
	RunID    uuid.UUID       `json:"run_id"`
	TargetID uuid.UUID       `json:"target_id"`
	Phase    Phase           `json:"phase"`
	Status   types.RunStatus `json:"status"`
}

// ProgressCallback is called when a run changes phase.
type ProgressCallback func(event ProgressEvent)

// Options configures an Orchestrator.
type Options struct {
	HistoryWindow int
	// ReanalyzeUnchanged sends content to the analyzer even when an earlier run
	// already analyzed the same snapshot.
	ReanalyzeUnchanged bool
	Logger             *slog.Logger
	Observer           RunObserver
	OnProgress         ProgressCallback
}

// RunOutcome summarizes one Process call.
type RunOutcome struct {
	RunID           uuid.UUID       `json:"run_id"`
	TargetID        uuid.UUID       `json:"target_id"`
	Status          types.RunStatus `json:"status"`
	Phase           Phase           `json:"phase"`
	SnapshotID      *uuid.UUID      `json:"snapshot_id,omitempty"`
	SnapshotCreated bool            `json:"snapshot_created"`
	AnalysisID      *uuid.UUID      `json:"analysis_id,omitempty"`
	Decision        types.Decision  `json:"decision,omitempty"`
	DriftScore      *float64        `json:"drift_score,omitempty"`
	Model           string          `json:"model,omitempty"`
	BriefingID      *uuid.UUID      `json:"briefing_id,omitempty"`
	Error           string          `json:"error,omitempty"`
	Duration        time.Duration   `json:"duration"`
}

// Orchestrator is the single entry point for processing a target.
type Orchestrator struct {
	store     Store
	source    fetch.Source
	snapshots *snapshot.Store
	analyzer  Analyzer
	drafter   Drafter
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// New creates an Orchestrator.
func New(store Store, source fetch.Source, analyzer Analyzer, drafter Drafter, opts Options) *Orchestrator {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		source:    source,
		snapshots: snapshot.NewStore(store),
		analyzer:  analyzer,
		drafter:   drafter,
		opts:      opts,
		logger:    logger,
		inFlight:  make(map[uuid.UUID]struct{}),
	}
}

func (o *Orchestrator) acquire(targetID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[targetID]; busy {
		return false
	}
	o.inFlight[targetID] = struct{}{}
	return true
}

func (o *Orchestrator) release(targetID uuid.UUID) {
	o.mu.Lock()
	delete(o.inFlight, targetID)
	o.mu.Unlock()
}

// Process runs the pipeline once for targetID. A run that failed after it was
// created is finalized as error and returned together with the error.
// ErrRunInProgress and *TargetNotFoundError are returned without creating a run.
func (o *Orchestrator) Process(ctx context.Context, targetID uuid.UUID) (outcome *RunOutcome, err error) {
	if !o.acquire(targetID) {
		return nil, ErrRunInProgress
	}
	defer o.release(targetID)

	target, err := o.store.GetTarget(ctx, targetID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &TargetNotFoundError{TargetID: targetID, Cause: err}
		}
		return nil, fmt.Errorf("failed to load target: %w", err)
	}

	start := time.Now()
	tracker, err := Start(ctx, o.store, target.ID)
	if err != nil {
		return nil, err
	}
	tracker.OnChange(func(p Phase, r *types.Run) {
		if o.opts.OnProgress != nil {
			o.opts.OnProgress(ProgressEvent{RunID: r.ID, TargetID: r.TargetID, Phase: p, Status: r.Status})
		}
	})

	outcome = &RunOutcome{RunID: tracker.Run().ID, TargetID: target.ID}
	log := o.logger.With("target_id", target.ID, "run_id", outcome.RunID)
	log.Info("run started", "url", target.URL, "strategy", target.CrawlStrategy)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during run: %v", r)
		}
		if err != nil {
			if ferr := tracker.Fail(ctx, err); ferr != nil {
				log.Error("failed to finalize run", "error", ferr)
			}
		} else if ferr := tracker.Finish(ctx); ferr != nil {
			err = ferr
		}

		run := tracker.Run()
		outcome.Status = run.Status
		outcome.Phase = tracker.Phase()
		outcome.Duration = time.Since(start)
		if err != nil {
			outcome.Error = err.Error()
			log.Warn("run failed", "status", run.Status, "error", err)
		} else {
			log.Info("run finished", "status", run.Status, "duration", outcome.Duration)
		}
		if o.opts.Observer != nil {
			o.opts.Observer.RunFinished(run.Status, outcome.Duration)
		}
	}()

	err = o.execute(ctx, tracker, target, outcome, log)
	return outcome, err
}

func (o *Orchestrator) execute(ctx context.Context, tracker *Tracker, target *types.Target, outcome *RunOutcome, log *slog.Logger) error {
	res, err := o.source.FetchTarget(ctx, target)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	snap, created, err := o.snapshots.GetOrCreate(ctx, target.ID, res.Content, res.Metadata)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return &TargetNotFoundError{TargetID: target.ID, Cause: err}
		}
		return err
	}
	outcome.SnapshotID = &snap.ID
	outcome.SnapshotCreated = created
	if err := tracker.Advance(ctx, PhaseFetched, func(r *types.Run) { r.SnapshotID = &snap.ID }); err != nil {
		return err
	}
	log.Debug("snapshot stored", "snapshot_id", snap.ID, "created", created, "content_hash", snap.ContentHash)

	if !created && !o.opts.ReanalyzeUnchanged {
		// Only the latest completed run counts: content that reverts to an older
		// snapshot must still be compared against what came in between.
		last, err := o.store.LatestCompletedSnapshotID(ctx, target.ID)
		if err != nil {
			return err
		}
		if last != nil && *last == snap.ID {
			log.Info("content unchanged since last analysis", "snapshot_id", snap.ID)
			return tracker.Advance(ctx, PhaseNoChange, nil)
		}
	}

	history, err := o.snapshots.History(ctx, snap, o.opts.HistoryWindow)
	if err != nil {
		return err
	}

	analysis, err := o.analyzer.Analyze(ctx, target, snap, history)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	analysis.RunID = tracker.Run().ID
	if err := o.store.SaveAnalysis(ctx, analysis); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	outcome.AnalysisID = &analysis.ID
	outcome.Decision = analysis.Decision
	outcome.DriftScore = &analysis.DriftScore
	outcome.Model = analysis.Model
	if err := tracker.Advance(ctx, PhaseAnalyzed, nil); err != nil {
		return err
	}
	log.Info("analysis complete", "decision", analysis.Decision, "drift_score", analysis.DriftScore, "model", analysis.Model)

	if analysis.Decision != types.DecisionDrift {
		return tracker.Advance(ctx, PhaseNoChange, nil)
	}
	if err := tracker.Advance(ctx, PhaseDrift, nil); err != nil {
		return err
	}

	b, err := o.drafter.Draft(ctx, target, analysis)
	if err != nil {
		return fmt.Errorf("briefing draft failed: %w", err)
	}
	b.RunID = tracker.Run().ID
	if err := o.store.CreateBriefing(ctx, b); err != nil {
		return fmt.Errorf("failed to save briefing: %w", err)
	}
	outcome.BriefingID = &b.ID
	if err := tracker.Advance(ctx, PhaseDrafted, nil); err != nil {
		return err
	}
	return tracker.Advance(ctx, PhasePendingReview, nil)
}
