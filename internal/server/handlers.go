package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/db"
	"github.com/jonathan/rivalops/internal/notify"
	"github.com/jonathan/rivalops/internal/server/middleware"
	"github.com/jonathan/rivalops/internal/types"
)

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 500
	rejectedMarker    = "\n\n---\n\n[REJECTED REASON]\n"
)

var validate = validator.New()

// ApproveRequest carries optional reviewer edits.
type ApproveRequest struct {
	Title            *string `json:"title,omitempty"`
	ExecutiveSummary *string `json:"executive_summary,omitempty"`
	DetailsMarkdown  *string `json:"details_markdown,omitempty"`
}

// RejectRequest carries the rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ReviewDetail is a briefing with the run and target it came from.
type ReviewDetail struct {
	Briefing *types.Briefing `json:"briefing"`
	Run      *types.Run      `json:"run,omitempty"`
	Target   *types.Target   `json:"target,omitempty"`
	Analysis *types.Analysis `json:"analysis,omitempty"`
}

// ApproveResponse reports the approved briefing and what delivery did.
type ApproveResponse struct {
	Briefing      *types.Briefing  `json:"briefing"`
	Delivery      *notify.Delivery `json:"delivery,omitempty"`
	DeliveryError string           `json:"delivery_error,omitempty"`
}

// RunDetail is a run with its analysis and briefing, when they exist.
type RunDetail struct {
	Run      *types.Run      `json:"run"`
	Analysis *types.Analysis `json:"analysis,omitempty"`
	Briefing *types.Briefing `json:"briefing,omitempty"`
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin exchanges reviewer credentials for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.errorFrom(w, r, validationError(err))
		return
	}

	reviewer, err := s.store.GetReviewerByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		s.errorFrom(w, r, err)
		return
	}
	if reviewer == nil || !s.auth.VerifyPassword(req.Password, reviewer.PasswordHash) {
		s.errorFrom(w, r, &ErrInvalidCredentials{})
		return
	}

	token, err := s.jwtService.GenerateToken(reviewer.ID, reviewer.Email)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, types.LoginResponse{Reviewer: reviewer, Token: token})
}

// handleReviewQueue lists pending briefings, newest first.
func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit := defaultQueueLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxQueueLimit {
			s.errorFrom(w, r, &ErrValidation{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxQueueLimit)})
			return
		}
		limit = n
	}

	briefings, err := s.store.ListBriefings(r.Context(), types.ReviewPending, limit)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if briefings == nil {
		briefings = []types.Briefing{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"briefings": briefings, "count": len(briefings)})
}

// handleGetReview returns one briefing with its run, target and analysis.
func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	briefing, err := s.store.GetBriefing(ctx, id)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	detail := ReviewDetail{Briefing: briefing}

	run, err := s.store.GetRun(ctx, briefing.RunID)
	switch {
	case err == nil:
		detail.Run = run
		if target, err := s.store.GetTarget(ctx, run.TargetID); err == nil {
			detail.Target = target
		} else if !errors.Is(err, db.ErrNotFound) {
			s.errorFrom(w, r, err)
			return
		}
	case !errors.Is(err, db.ErrNotFound):
		s.errorFrom(w, r, err)
		return
	}

	if analysis, err := s.store.GetAnalysisByRun(ctx, briefing.RunID); err == nil {
		detail.Analysis = analysis
	} else if !errors.Is(err, db.ErrNotFound) {
		s.errorFrom(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, detail)
}

// handleApprove applies optional edits, approves the briefing and delivers it.
// Approving an already approved briefing retries delivery.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	reviewer, err := middleware.GetReviewer(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ApproveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		s.errorFrom(w, r, &ErrValidation{Field: "title", Message: "must not be empty"})
		return
	}

	ctx := r.Context()
	briefing, err := s.store.GetBriefing(ctx, id)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if briefing.ReviewStatus == types.ReviewRejected {
		s.errorFrom(w, r, &ErrReviewClosed{Status: string(briefing.ReviewStatus)})
		return
	}

	from := briefing.ReviewStatus
	if req.Title != nil {
		briefing.Title = strings.TrimSpace(*req.Title)
	}
	if req.ExecutiveSummary != nil {
		briefing.ExecutiveSummary = *req.ExecutiveSummary
	}
	if req.DetailsMarkdown != nil {
		briefing.DetailsMarkdown = *req.DetailsMarkdown
	}
	s.markReviewed(briefing, types.ReviewApproved, reviewer)

	if err := s.store.UpdateBriefingReview(ctx, briefing, from); err != nil {
		s.errorFrom(w, r, s.reviewConflict(r, id, err))
		return
	}
	s.logger.Info("briefing approved", "briefing_id", id, "reviewer", reviewer.Email)

	resp := ApproveResponse{Briefing: briefing}
	if s.deliverer != nil {
		delivery, err := s.deliverer.DeliverBriefing(ctx, id)
		if err != nil {
			s.logger.Error("delivery after approval failed", "briefing_id", id, "error", err)
			resp.DeliveryError = err.Error()
		} else {
			resp.Delivery = delivery
			if delivery.Marker != "" {
				resp.Briefing.DeliveredMarker = delivery.Marker
			}
		}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleReject rejects a pending briefing, appending the reason to its details.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	reviewer, err := middleware.GetReviewer(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RejectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorFrom(w, r, err)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validate.Struct(req); err != nil {
		s.errorFrom(w, r, validationError(err))
		return
	}

	ctx := r.Context()
	briefing, err := s.store.GetBriefing(ctx, id)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if briefing.ReviewStatus != types.ReviewPending {
		s.errorFrom(w, r, &ErrReviewClosed{Status: string(briefing.ReviewStatus)})
		return
	}

	briefing.DetailsMarkdown += rejectedMarker + req.Reason
	s.markReviewed(briefing, types.ReviewRejected, reviewer)

	if err := s.store.UpdateBriefingReview(ctx, briefing, types.ReviewPending); err != nil {
		s.errorFrom(w, r, s.reviewConflict(r, id, err))
		return
	}
	s.logger.Info("briefing rejected", "briefing_id", id, "reviewer", reviewer.Email)
	s.jsonResponse(w, http.StatusOK, briefing)
}

// reviewConflict turns a lost review race into ErrReviewClosed carrying the
// status the other decision wrote.
func (s *Server) reviewConflict(r *http.Request, id uuid.UUID, err error) error {
	if !errors.Is(err, db.ErrReviewChanged) {
		return err
	}
	current, getErr := s.store.GetBriefing(r.Context(), id)
	if getErr != nil {
		return err
	}
	return &ErrReviewClosed{Status: string(current.ReviewStatus)}
}

// handleProcessTarget runs the pipeline once for a target and returns the outcome.
func (s *Server) handleProcessTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	outcome, err := s.processor.Process(r.Context(), id)
	if err != nil {
		if outcome == nil {
			s.errorFrom(w, r, err)
			return
		}
		// the run exists and was finalized as error
		s.jsonResponse(w, HTTPStatus(err), outcome)
		return
	}
	s.jsonResponse(w, http.StatusOK, outcome)
}

// handleGetRun returns a run with its analysis and briefing.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	detail := RunDetail{Run: run}

	if analysis, err := s.store.GetAnalysisByRun(ctx, id); err == nil {
		detail.Analysis = analysis
	} else if !errors.Is(err, db.ErrNotFound) {
		s.errorFrom(w, r, err)
		return
	}
	if briefing, err := s.store.GetBriefingByRun(ctx, id); err == nil {
		detail.Briefing = briefing
	} else if !errors.Is(err, db.ErrNotFound) {
		s.errorFrom(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, detail)
}

func (s *Server) markReviewed(b *types.Briefing, status types.ReviewStatus, reviewer middleware.Reviewer) {
	now := s.now().UTC()
	b.ReviewStatus = status
	b.ReviewedBy = reviewer.Email
	b.ReviewedAt = &now
}

// pathID parses the {id} path value, writing a 400 when it is not a UUID.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, r, &ErrValidation{Field: "id", Message: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, v any) error {
	return decodeBody(r, v, false)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	return decodeBody(r, v, true)
}

func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return nil
	}
	return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
}

// validationError converts validator output to the first failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ErrValidation{Field: verrs[0].Field(), Message: verrs[0].Tag()}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}
