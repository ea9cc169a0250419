package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/types"
)

// -----------------------------------------------------------------------------
// Competitors and targets
// -----------------------------------------------------------------------------

// CreateCompetitor inserts a competitor and fills in its ID and creation time.
func (db *DB) CreateCompetitor(ctx context.Context, c *types.Competitor) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO competitors (id, name, domain, notes)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		c.ID, c.Name, c.Domain, c.Notes,
	).Scan(&c.CreatedAt)
	return wrap("create competitor", err)
}

// GetCompetitorByName looks a competitor up by its unique name.
func (db *DB) GetCompetitorByName(ctx context.Context, name string) (*types.Competitor, error) {
	var c types.Competitor
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, domain, notes, created_at FROM competitors WHERE name = $1`, name,
	).Scan(&c.ID, &c.Name, &c.Domain, &c.Notes, &c.CreatedAt)
	if err != nil {
		return nil, wrap("get competitor "+name, err)
	}
	return &c, nil
}

// ListCompetitors returns every competitor ordered by name.
func (db *DB) ListCompetitors(ctx context.Context) ([]types.Competitor, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, domain, notes, created_at FROM competitors ORDER BY name`)
	if err != nil {
		return nil, wrap("list competitors", err)
	}
	defer rows.Close()

	var out []types.Competitor
	for rows.Next() {
		var c types.Competitor
		if err := rows.Scan(&c.ID, &c.Name, &c.Domain, &c.Notes, &c.CreatedAt); err != nil {
			return nil, wrap("scan competitor", err)
		}
		out = append(out, c)
	}
	return out, wrap("list competitors", rows.Err())
}

// CreateTarget validates and inserts a target.
func (db *DB) CreateTarget(ctx context.Context, t *types.Target) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CrawlStrategy == "" {
		t.CrawlStrategy = types.CrawlMarkdown
	}
	if t.ScheduleMinutes == 0 {
		t.ScheduleMinutes = 60
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO targets (id, competitor_id, url, label, crawl_strategy, schedule_minutes, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		t.ID, t.CompetitorID, t.URL, t.Label, string(t.CrawlStrategy), t.ScheduleMinutes, t.Enabled,
	).Scan(&t.CreatedAt)
	return wrap("create target", err)
}

const targetColumns = `id, competitor_id, url, label, crawl_strategy, schedule_minutes, enabled, created_at`

func scanTarget(row interface{ Scan(...any) error }) (*types.Target, error) {
	var t types.Target
	var strategy string
	if err := row.Scan(&t.ID, &t.CompetitorID, &t.URL, &t.Label, &strategy,
		&t.ScheduleMinutes, &t.Enabled, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.CrawlStrategy = types.CrawlStrategy(strategy)
	return &t, nil
}

// GetTarget returns the target with id, or an error wrapping ErrNotFound.
func (db *DB) GetTarget(ctx context.Context, id uuid.UUID) (*types.Target, error) {
	t, err := scanTarget(db.pool.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get target "+id.String(), err)
	}
	return t, nil
}

// ListTargets returns targets ordered by creation time, optionally only enabled ones.
func (db *DB) ListTargets(ctx context.Context, enabledOnly bool) ([]types.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, wrap("list targets", err)
	}
	defer rows.Close()

	var out []types.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, wrap("scan target", err)
		}
		out = append(out, *t)
	}
	return out, wrap("list targets", rows.Err())
}

// SetTargetEnabled toggles whether the worker schedules a target.
func (db *DB) SetTargetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := db.pool.Exec(ctx, `UPDATE targets SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return wrap("update target", err)
	}
	if tag.RowsAffected() == 0 {
		return &StorageError{Op: "update target " + id.String(), Cause: ErrNotFound}
	}
	return nil
}

// LastRunStarts returns the start time of the most recent run per target.
func (db *DB) LastRunStarts(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT target_id, MAX(started_at) FROM runs GROUP BY target_id`)
	if err != nil {
		return nil, wrap("last run starts", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var id uuid.UUID
		var ts time.Time
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, wrap("scan last run", err)
		}
		out[id] = ts
	}
	return out, wrap("last run starts", rows.Err())
}
