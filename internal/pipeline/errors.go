package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when a target already has an in-flight run.
var ErrRunInProgress = errors.New("a run is already in progress for this target")

// TargetNotFoundError is returned when the target to process does not exist.
type TargetNotFoundError struct {
	TargetID uuid.UUID
	Cause    error
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("target %s not found", e.TargetID)
}

func (e *TargetNotFoundError) Unwrap() error {
	return e.Cause
}
