package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/types"
)

// -----------------------------------------------------------------------------
// Analyses
// -----------------------------------------------------------------------------

// SaveAnalysis validates and inserts an analysis. A score outside [0, 1] is rejected
// before reaching the database, which enforces the same range with a CHECK constraint.
func (db *DB) SaveAnalysis(ctx context.Context, a *types.Analysis) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid analysis: %w", err)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	summary, err := json.Marshal(a.DiffSummary)
	if err != nil {
		return fmt.Errorf("failed to marshal diff summary: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO analyses (id, run_id, model, drift_score, decision, rationale, diff_summary_json)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		a.ID, a.RunID, a.Model, a.DriftScore, string(a.Decision), a.Rationale, summary,
	).Scan(&a.CreatedAt)
	return wrap("save analysis", err)
}

// GetAnalysisByRun returns the analysis recorded for a run.
func (db *DB) GetAnalysisByRun(ctx context.Context, runID uuid.UUID) (*types.Analysis, error) {
	var a types.Analysis
	var decision string
	var summary []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, model, drift_score, decision, rationale, diff_summary_json, created_at
		 FROM analyses WHERE run_id = $1`, runID,
	).Scan(&a.ID, &a.RunID, &a.Model, &a.DriftScore, &decision, &a.Rationale, &summary, &a.CreatedAt)
	if err != nil {
		return nil, wrap("get analysis for run "+runID.String(), err)
	}
	a.Decision = types.Decision(decision)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &a.DiffSummary); err != nil {
			return nil, fmt.Errorf("failed to decode diff summary: %w", err)
		}
	}
	return &a, nil
}
