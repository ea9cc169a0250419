package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/rivalops/internal/types"
)

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

const runColumns = `id, target_id, snapshot_id, started_at, ended_at, status, COALESCE(error_message, ''), attempt`

func scanRun(row interface{ Scan(...any) error }) (*types.Run, error) {
	var r types.Run
	var status string
	if err := row.Scan(&r.ID, &r.TargetID, &r.SnapshotID, &r.StartedAt, &r.EndedAt,
		&status, &r.ErrorMessage, &r.Attempt); err != nil {
		return nil, err
	}
	r.Status = types.RunStatus(status)
	return &r, nil
}

// CreateRun inserts a run. StartedAt is set by the database when zero.
func (db *DB) CreateRun(ctx context.Context, r *types.Run) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Attempt == 0 {
		r.Attempt = 1
	}
	if r.Status == "" {
		r.Status = types.RunStatusStarted
	}
	var started any
	if !r.StartedAt.IsZero() {
		started = r.StartedAt
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO runs (id, target_id, started_at, status, attempt)
		 VALUES ($1, $2, COALESCE($3, NOW()), $4, $5)
		 RETURNING started_at`,
		r.ID, r.TargetID, started, string(r.Status), r.Attempt,
	).Scan(&r.StartedAt)
	return wrap("create run", err)
}

// UpdateRun persists a run's snapshot, status, end time and error message.
func (db *DB) UpdateRun(ctx context.Context, r *types.Run) error {
	var errMsg *string
	if r.ErrorMessage != "" {
		errMsg = &r.ErrorMessage
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET snapshot_id = $2, status = $3, ended_at = $4, error_message = $5
		 WHERE id = $1`,
		r.ID, r.SnapshotID, string(r.Status), r.EndedAt, errMsg)
	if err != nil {
		return wrap("update run", err)
	}
	if tag.RowsAffected() == 0 {
		return &StorageError{Op: "update run " + r.ID.String(), Cause: ErrNotFound}
	}
	return nil
}

// GetRun returns a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*types.Run, error) {
	r, err := scanRun(db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get run "+id.String(), err)
	}
	return r, nil
}

// ListRuns returns the most recent runs of a target.
func (db *DB) ListRuns(ctx context.Context, targetID uuid.UUID, limit int) ([]types.Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE target_id = $1 ORDER BY started_at DESC LIMIT $2`,
		targetID, limit)
	if err != nil {
		return nil, wrap("list runs", err)
	}
	defer rows.Close()

	var out []types.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, wrap("scan run", err)
		}
		out = append(out, *r)
	}
	return out, wrap("list runs", rows.Err())
}

// LatestCompletedSnapshotID returns the snapshot captured by the target's most
// recent run that reached a successful terminal status, or nil when there is none.
func (db *DB) LatestCompletedSnapshotID(ctx context.Context, targetID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`SELECT snapshot_id FROM runs
		 WHERE target_id = $1 AND snapshot_id IS NOT NULL
		   AND status IN ('no_change', 'drift')
		 ORDER BY started_at DESC
		 LIMIT 1`, targetID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("latest completed run", err)
	}
	return &id, nil
}
