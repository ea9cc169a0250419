package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/types"
)

// maxErrorMessage caps the error text stored on a run.
const maxErrorMessage = 4000

// RunStore persists run state changes.
type RunStore interface {
	CreateRun(ctx context.Context, r *types.Run) error
	UpdateRun(ctx context.Context, r *types.Run) error
}

// Tracker owns the lifecycle of one Run and persists every phase change immediately.
type Tracker struct {
	store    RunStore
	run      types.Run
	phase    Phase
	now      func() time.Time
	onChange func(Phase, *types.Run)

	// FinalizeTimeout bounds the write that records a failure.
	FinalizeTimeout time.Duration
}

// Start creates a Run for targetID in the STARTED phase.
func Start(ctx context.Context, store RunStore, targetID uuid.UUID) (*Tracker, error) {
	t := &Tracker{
		store:           store,
		phase:           PhaseStarted,
		now:             time.Now,
		FinalizeTimeout: 10 * time.Second,
	}
	t.run = types.Run{
		TargetID:  targetID,
		StartedAt: t.now().UTC(),
		Status:    types.RunStatusStarted,
		Attempt:   1,
	}
	if err := store.CreateRun(ctx, &t.run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return t, nil
}

// Run returns a copy of the tracked run.
func (t *Tracker) Run() types.Run {
	return t.run
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	return t.phase
}

// OnChange registers fn to be called after each persisted phase change.
func (t *Tracker) OnChange(fn func(Phase, *types.Run)) {
	t.onChange = fn
}

// Advance moves the run to next, applying mutate to the run first, and persists it.
// Entering a terminal phase sets ended_at.
func (t *Tracker) Advance(ctx context.Context, next Phase, mutate func(*types.Run)) error {
	if !t.phase.CanTransition(next) {
		return &TransitionError{From: t.phase, To: next}
	}

	updated := t.run
	if mutate != nil {
		mutate(&updated)
	}
	updated.Status = next.Status()
	if next.Terminal() {
		ended := t.now().UTC()
		updated.EndedAt = &ended
	}
	if err := t.store.UpdateRun(ctx, &updated); err != nil {
		return fmt.Errorf("failed to record %s: %w", next, err)
	}

	t.run = updated
	t.phase = next
	if t.onChange != nil {
		t.onChange(next, &t.run)
	}
	return nil
}

// Fail finalizes the run as ERRORED with cause's message. It is a no-op once the
// run is terminal, and it writes on a context detached from ctx's cancellation so
// cancelled runs are still closed.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	if t.phase.Terminal() {
		return nil
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorMessage {
		msg = strings.ToValidUTF8(msg[:maxErrorMessage], "")
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.FinalizeTimeout)
	defer cancel()
	return t.Advance(fctx, PhaseErrored, func(r *types.Run) {
		r.ErrorMessage = msg
	})
}

// Finish guarantees the run is terminal, failing it if a step returned without
// reaching a terminal phase.
func (t *Tracker) Finish(ctx context.Context) error {
	if t.phase.Terminal() {
		return nil
	}
	return t.Fail(ctx, fmt.Errorf("run stopped in non-terminal phase %s", t.phase))
}
