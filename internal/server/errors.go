// Package server provides the HTTP review API for rivalops.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/rivalops/internal/db"
	"github.com/jonathan/rivalops/internal/llm"
	"github.com/jonathan/rivalops/internal/notify"
	"github.com/jonathan/rivalops/internal/pipeline"
)

// ErrInvalidCredentials indicates invalid login credentials
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid email or password"
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrReviewClosed indicates a review decision on a briefing that can no longer take it.
type ErrReviewClosed struct {
	Status string
}

func (e *ErrReviewClosed) Error() string {
	return fmt.Sprintf("briefing is already %s", e.Status)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation *ErrValidation
		creds      *ErrInvalidCredentials
		closed     *ErrReviewClosed
		noTarget   *pipeline.TargetNotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &creds):
		return http.StatusUnauthorized
	case errors.As(err, &noTarget), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &closed),
		errors.Is(err, pipeline.ErrRunInProgress),
		errors.Is(err, notify.ErrNotApproved),
		errors.Is(err, db.ErrConflict),
		errors.Is(err, db.ErrReviewChanged):
		return http.StatusConflict
	case errors.Is(err, llm.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
