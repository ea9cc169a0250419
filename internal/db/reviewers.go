package db

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/types"
)

// CreateReviewer inserts a reviewer. Email is stored lower-cased.
func (db *DB) CreateReviewer(ctx context.Context, r *types.Reviewer) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	err := db.pool.QueryRow(ctx,
		`INSERT INTO reviewers (id, email, display_name, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		r.ID, r.Email, r.DisplayName, r.PasswordHash,
	).Scan(&r.CreatedAt)
	return wrap("create reviewer", err)
}

// GetReviewerByEmail looks a reviewer up for login.
func (db *DB) GetReviewerByEmail(ctx context.Context, email string) (*types.Reviewer, error) {
	var r types.Reviewer
	err := db.pool.QueryRow(ctx,
		`SELECT id, email, display_name, password_hash, created_at FROM reviewers WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&r.ID, &r.Email, &r.DisplayName, &r.PasswordHash, &r.CreatedAt)
	if err != nil {
		return nil, wrap("get reviewer", err)
	}
	return &r, nil
}

// GetReviewer looks a reviewer up by ID.
func (db *DB) GetReviewer(ctx context.Context, id uuid.UUID) (*types.Reviewer, error) {
	var r types.Reviewer
	err := db.pool.QueryRow(ctx,
		`SELECT id, email, display_name, password_hash, created_at FROM reviewers WHERE id = $1`, id,
	).Scan(&r.ID, &r.Email, &r.DisplayName, &r.PasswordHash, &r.CreatedAt)
	if err != nil {
		return nil, wrap("get reviewer "+id.String(), err)
	}
	return &r, nil
}
