// Package scheduler polls for due targets and feeds them to the pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/rivalops/internal/pipeline"
	"github.com/jonathan/rivalops/internal/types"
)

// Defaults
const (
	DefaultInterval    = time.Minute
	DefaultConcurrency = 4
)

// TargetSource lists targets and their latest run start times.
type TargetSource interface {
	ListTargets(ctx context.Context, enabledOnly bool) ([]types.Target, error)
	LastRunStarts(ctx context.Context) (map[uuid.UUID]time.Time, error)
}

// Processor runs the pipeline for one target.
type Processor interface {
	Process(ctx context.Context, targetID uuid.UUID) (*pipeline.RunOutcome, error)
}

// IsDue reports whether target should run at now. A target that never ran is due;
// otherwise it is due once schedule_minutes have passed since its last run started.
func IsDue(target types.Target, lastStart time.Time, hasRun bool, now time.Time) bool {
	if !target.Enabled {
		return false
	}
	if !hasRun {
		return true
	}
	every := time.Duration(target.ScheduleMinutes) * time.Minute
	return !now.Before(lastStart.Add(every))
}

// TickResult counts what one poll did.
type TickResult struct {
	Due       int
	Succeeded int
	Failed    int
	Skipped   int // already running
}

// Worker polls on a fixed interval.
type Worker struct {
	targets     TargetSource
	processor   Processor
	Interval    time.Duration
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewWorker creates a Worker with default interval and concurrency.
func NewWorker(targets TargetSource, processor Processor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		targets:     targets,
		processor:   processor,
		Interval:    DefaultInterval,
		Concurrency: DefaultConcurrency,
		Logger:      logger,
		Now:         time.Now,
	}
}

// DueTargets returns the enabled targets that are due at now.
func (w *Worker) DueTargets(ctx context.Context, now time.Time) ([]types.Target, error) {
	targets, err := w.targets.ListTargets(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	last, err := w.targets.LastRunStarts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load last runs: %w", err)
	}

	var due []types.Target
	for _, t := range targets {
		started, ok := last[t.ID]
		if IsDue(t, started, ok, now) {
			due = append(due, t)
		}
	}
	return due, nil
}

// Tick processes every due target with bounded concurrency. A failing target is
// logged and does not stop the others.
func (w *Worker) Tick(ctx context.Context) (TickResult, error) {
	due, err := w.DueTargets(ctx, w.Now())
	if err != nil {
		return TickResult{}, err
	}

	var succeeded, failed, skipped atomic.Int32
	limit := w.Concurrency
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, err := w.processor.Process(ctx, t.ID)
			switch {
			case errors.Is(err, pipeline.ErrRunInProgress):
				skipped.Add(1)
				w.Logger.Debug("target already running", "target_id", t.ID)
			case err != nil:
				failed.Add(1)
				attrs := []any{"target_id", t.ID, "url", t.URL, "error", err}
				if outcome != nil {
					attrs = append(attrs, "run_id", outcome.RunID)
				}
				w.Logger.Error("target processing failed", attrs...)
			default:
				succeeded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{
		Due:       len(due),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	return res, nil
}

// Run ticks immediately and then every Interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	w.Logger.Info("worker started", "interval", interval, "concurrency", w.Concurrency)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := w.Tick(ctx)
		if err != nil {
			w.Logger.Error("worker tick failed", "error", err)
		} else if res.Due > 0 {
			w.Logger.Info("worker tick complete",
				"due", res.Due, "succeeded", res.Succeeded, "failed", res.Failed, "skipped", res.Skipped)
		}

		select {
		case <-ctx.Done():
			w.Logger.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}
