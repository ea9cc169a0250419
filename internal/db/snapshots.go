package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/rivalops/internal/types"
)

// -----------------------------------------------------------------------------
// Snapshots
// -----------------------------------------------------------------------------

const snapshotColumns = `id, target_id, fetched_at, content_hash, content_markdown, metadata_json`

func scanSnapshot(row interface{ Scan(...any) error }) (*types.Snapshot, error) {
	var s types.Snapshot
	var meta []byte
	if err := row.Scan(&s.ID, &s.TargetID, &s.FetchedAt, &s.ContentHash, &s.Content, &meta); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot metadata: %w", err)
		}
	}
	return &s, nil
}

// GetOrCreateSnapshot inserts snap unless a snapshot with the same target and content hash
// exists, in which case the stored row is returned unchanged. The check and insert happen
// in one transaction guarded by the (target_id, content_hash) unique constraint.
// created reports whether a new row was written.
func (db *DB) GetOrCreateSnapshot(ctx context.Context, snap *types.Snapshot) (*types.Snapshot, bool, error) {
	meta, err := json.Marshal(snap.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}
	id := snap.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var out *types.Snapshot
	var created bool
	err = db.WithTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM targets WHERE id = $1)`, snap.TargetID,
		).Scan(&exists); err != nil {
			return wrap("check target", err)
		}
		if !exists {
			return &StorageError{Op: "get target " + snap.TargetID.String(), Cause: ErrNotFound}
		}

		s, err := scanSnapshot(tx.QueryRow(ctx,
			`INSERT INTO snapshots (id, target_id, content_hash, content_markdown, metadata_json)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (target_id, content_hash) DO NOTHING
			 RETURNING `+snapshotColumns,
			id, snap.TargetID, snap.ContentHash, snap.Content, meta))
		if err == nil {
			out, created = s, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return wrap("insert snapshot", err)
		}

		s, err = scanSnapshot(tx.QueryRow(ctx,
			`SELECT `+snapshotColumns+` FROM snapshots WHERE target_id = $1 AND content_hash = $2`,
			snap.TargetID, snap.ContentHash))
		if err != nil {
			return wrap("get snapshot by hash", err)
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// GetSnapshot returns a snapshot by ID.
func (db *DB) GetSnapshot(ctx context.Context, id uuid.UUID) (*types.Snapshot, error) {
	s, err := scanSnapshot(db.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get snapshot "+id.String(), err)
	}
	return s, nil
}

// RecentSnapshots returns up to limit snapshots of a target other than excludeID,
// most recently fetched first.
func (db *DB) RecentSnapshots(ctx context.Context, targetID, excludeID uuid.UUID, limit int) ([]types.Snapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE target_id = $1 AND id <> $2
		 ORDER BY fetched_at DESC
		 LIMIT $3`,
		targetID, excludeID, limit)
	if err != nil {
		return nil, wrap("recent snapshots", err)
	}
	defer rows.Close()

	var out []types.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, wrap("scan snapshot", err)
		}
		out = append(out, *s)
	}
	return out, wrap("recent snapshots", rows.Err())
}

// CountSnapshots returns how many snapshots a target has.
func (db *DB) CountSnapshots(ctx context.Context, targetID uuid.UUID) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM snapshots WHERE target_id = $1`, targetID).Scan(&n)
	return n, wrap("count snapshots", err)
}
