package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Competitor is a company whose pages are monitored.
type Competitor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name" validate:"required"`
	Domain    string    `json:"domain,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Target is a single monitored URL.
type Target struct {
	ID              uuid.UUID     `json:"id"`
	CompetitorID    uuid.UUID     `json:"competitor_id" validate:"required"`
	URL             string        `json:"url" validate:"required,url"`
	Label           string        `json:"label,omitempty"`
	CrawlStrategy   CrawlStrategy `json:"crawl_strategy" validate:"required,oneof=markdown html browser"`
	ScheduleMinutes int           `json:"schedule_minutes" validate:"gte=1"`
	Enabled         bool          `json:"enabled"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Validate checks the target's fields.
func (t *Target) Validate() error {
	return validate.Struct(t)
}

// DisplayName returns the label, or the URL when no label is set.
func (t *Target) DisplayName() string {
	if t.Label != "" {
		return t.Label
	}
	return t.URL
}

// Snapshot is one captured version of a target's content.
type Snapshot struct {
	ID          uuid.UUID      `json:"id"`
	TargetID    uuid.UUID      `json:"target_id"`
	FetchedAt   time.Time      `json:"fetched_at"`
	ContentHash string         `json:"content_hash"`
	Content     string         `json:"content_markdown"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Run is one execution of the pipeline for one target.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	TargetID     uuid.UUID  `json:"target_id"`
	SnapshotID   *uuid.UUID `json:"snapshot_id,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Status       RunStatus  `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempt      int        `json:"attempt"`
}

// DiffSummary holds the structured part of an analysis.
type DiffSummary struct {
	ChangeTypes          []string `json:"change_types"`
	Evidence             []string `json:"evidence"`
	RecommendedFollowups []string `json:"recommended_followups"`
}

// Analysis is the drift verdict for one run.
type Analysis struct {
	ID          uuid.UUID   `json:"id"`
	RunID       uuid.UUID   `json:"run_id"`
	Model       string      `json:"model" validate:"required"`
	DriftScore  float64     `json:"drift_score" validate:"gte=0,lte=1"`
	Decision    Decision    `json:"decision" validate:"required,oneof=no_change drift"`
	Rationale   string      `json:"rationale"`
	DiffSummary DiffSummary `json:"diff_summary"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Validate enforces the score range and the closed decision set.
func (a *Analysis) Validate() error {
	return validate.Struct(a)
}

// Briefing is a drafted executive summary awaiting or past review.
type Briefing struct {
	ID               uuid.UUID    `json:"id"`
	RunID            uuid.UUID    `json:"run_id"`
	Title            string       `json:"title" validate:"required"`
	ExecutiveSummary string       `json:"executive_summary"`
	DetailsMarkdown  string       `json:"details_markdown"`
	RiskLevel        RiskLevel    `json:"risk_level" validate:"required,oneof=low medium high"`
	ReviewStatus     ReviewStatus `json:"review_status" validate:"required,oneof=pending approved rejected"`
	ReviewedBy       string       `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time   `json:"reviewed_at,omitempty"`
	DeliveredMarker  string       `json:"delivered_marker,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Validate checks the briefing's enumerations and title.
func (b *Briefing) Validate() error {
	return validate.Struct(b)
}

// Delivered reports whether the briefing has already been sent.
func (b *Briefing) Delivered() bool {
	return b.DeliveredMarker != ""
}
