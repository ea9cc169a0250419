package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/types"
)

// -----------------------------------------------------------------------------
// Briefings
// -----------------------------------------------------------------------------

const briefingColumns = `id, run_id, title, executive_summary, details_markdown, risk_level, review_status,
	COALESCE(reviewed_by, ''), reviewed_at, COALESCE(delivered_marker, ''), created_at`

func scanBriefing(row interface{ Scan(...any) error }) (*types.Briefing, error) {
	var b types.Briefing
	var risk, review string
	if err := row.Scan(&b.ID, &b.RunID, &b.Title, &b.ExecutiveSummary, &b.DetailsMarkdown,
		&risk, &review, &b.ReviewedBy, &b.ReviewedAt, &b.DeliveredMarker, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.RiskLevel = types.RiskLevel(risk)
	b.ReviewStatus = types.ReviewStatus(review)
	return &b, nil
}

// CreateBriefing validates and inserts a briefing.
func (db *DB) CreateBriefing(ctx context.Context, b *types.Briefing) error {
	if b.ReviewStatus == "" {
		b.ReviewStatus = types.ReviewPending
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid briefing: %w", err)
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO briefings (id, run_id, title, executive_summary, details_markdown, risk_level, review_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		b.ID, b.RunID, b.Title, b.ExecutiveSummary, b.DetailsMarkdown, string(b.RiskLevel), string(b.ReviewStatus),
	).Scan(&b.CreatedAt)
	return wrap("create briefing", err)
}

// GetBriefing returns a briefing by ID.
func (db *DB) GetBriefing(ctx context.Context, id uuid.UUID) (*types.Briefing, error) {
	b, err := scanBriefing(db.pool.QueryRow(ctx, `SELECT `+briefingColumns+` FROM briefings WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get briefing "+id.String(), err)
	}
	return b, nil
}

// GetBriefingByRun returns the briefing drafted for a run.
func (db *DB) GetBriefingByRun(ctx context.Context, runID uuid.UUID) (*types.Briefing, error) {
	b, err := scanBriefing(db.pool.QueryRow(ctx, `SELECT `+briefingColumns+` FROM briefings WHERE run_id = $1`, runID))
	if err != nil {
		return nil, wrap("get briefing for run "+runID.String(), err)
	}
	return b, nil
}

// ListBriefings returns briefings with the given review status, newest first.
// An empty status lists every briefing.
func (db *DB) ListBriefings(ctx context.Context, status types.ReviewStatus, limit int) ([]types.Briefing, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + briefingColumns + ` FROM briefings`
	args := []any{limit}
	if status != "" {
		query += ` WHERE review_status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list briefings", err)
	}
	defer rows.Close()

	var out []types.Briefing
	for rows.Next() {
		b, err := scanBriefing(rows)
		if err != nil {
			return nil, wrap("scan briefing", err)
		}
		out = append(out, *b)
	}
	return out, wrap("list briefings", rows.Err())
}

// UpdateBriefingReview persists a reviewer's decision and edits, provided the
// stored review status is still from. Otherwise it returns ErrReviewChanged.
func (db *DB) UpdateBriefingReview(ctx context.Context, b *types.Briefing, from types.ReviewStatus) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid briefing: %w", err)
	}
	op := "update briefing " + b.ID.String()
	tag, err := db.pool.Exec(ctx,
		`UPDATE briefings
		 SET title = $2, executive_summary = $3, details_markdown = $4,
		     review_status = $5, reviewed_by = $6, reviewed_at = $7
		 WHERE id = $1 AND review_status = $8`,
		b.ID, b.Title, b.ExecutiveSummary, b.DetailsMarkdown, string(b.ReviewStatus), b.ReviewedBy, b.ReviewedAt,
		string(from))
	if err != nil {
		return wrap("update briefing review", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	if err := db.pool.QueryRow(ctx, `SELECT review_status FROM briefings WHERE id = $1`, b.ID).Scan(&current); err != nil {
		return wrap(op, err)
	}
	return &StorageError{Op: op, Cause: fmt.Errorf("%w: now %s", ErrReviewChanged, current)}
}

// MarkBriefingDelivered records marker if the briefing has not been delivered yet.
// It reports false when another delivery already set a marker.
func (db *DB) MarkBriefingDelivered(ctx context.Context, id uuid.UUID, marker string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE briefings SET delivered_marker = $2 WHERE id = $1 AND delivered_marker IS NULL`,
		id, marker)
	if err != nil {
		return false, wrap("mark briefing delivered", err)
	}
	return tag.RowsAffected() == 1, nil
}
