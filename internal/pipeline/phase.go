package pipeline

import (
	"fmt"

	"github.com/jonathan/rivalops/internal/types"
)

// Phase is a state of the per-run state machine.
type Phase string

// Phases
const (
	PhaseStarted       Phase = "STARTED"
	PhaseFetched       Phase = "FETCHED"
	PhaseAnalyzed      Phase = "ANALYZED"
	PhaseNoChange      Phase = "NO_CHANGE"
	PhaseDrift         Phase = "DRIFT"
	PhaseDrafted       Phase = "DRAFTED"
	PhasePendingReview Phase = "PENDING_REVIEW"
	PhaseErrored       Phase = "ERRORED"
)

// transitions lists the legal successors of each phase. ERRORED is added for
// every non-terminal phase by CanTransition.
// FETCHED → NO_CHANGE covers content that an earlier run already analyzed.
var transitions = map[Phase][]Phase{
	PhaseStarted:  {PhaseFetched},
	PhaseFetched:  {PhaseAnalyzed, PhaseNoChange},
	PhaseAnalyzed: {PhaseNoChange, PhaseDrift},
	PhaseDrift:    {PhaseDrafted},
	PhaseDrafted:  {PhasePendingReview},
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseNoChange || p == PhasePendingReview || p == PhaseErrored
}

// CanTransition reports whether moving from p to next is legal.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseErrored {
		return true
	}
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Status returns the persisted run status for the phase.
func (p Phase) Status() types.RunStatus {
	switch p {
	case PhaseStarted:
		return types.RunStatusStarted
	case PhaseFetched:
		return types.RunStatusFetched
	case PhaseAnalyzed:
		return types.RunStatusAnalyzed
	case PhaseNoChange:
		return types.RunStatusNoChange
	case PhaseDrift, PhaseDrafted, PhasePendingReview:
		return types.RunStatusDrift
	default:
		return types.RunStatusError
	}
}

// TransitionError reports an illegal phase change. It indicates a bug in the caller.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal run transition %s -> %s", e.From, e.To)
}
