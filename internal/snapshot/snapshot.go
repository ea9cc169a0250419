// Package snapshot stores fetched page content, deduplicated by content hash.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/types"
)

// Repository is the storage the snapshot store needs.
type Repository interface {
	GetOrCreateSnapshot(ctx context.Context, snap *types.Snapshot) (*types.Snapshot, bool, error)
	RecentSnapshots(ctx context.Context, targetID, excludeID uuid.UUID, limit int) ([]types.Snapshot, error)
}

// ContentHash returns the hex SHA-256 digest of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Store deduplicates snapshots per target.
type Store struct {
	repo Repository
}

// NewStore creates a Store over repo.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// GetOrCreate returns the target's snapshot for content, creating it if no snapshot
// with the same hash exists. created reports whether a new row was inserted.
// An existing snapshot is returned unchanged, including its original metadata.
func (s *Store) GetOrCreate(ctx context.Context, targetID uuid.UUID, content string, metadata map[string]any) (*types.Snapshot, bool, error) {
	snap := &types.Snapshot{
		TargetID:    targetID,
		ContentHash: ContentHash(content),
		Content:     content,
		Metadata:    metadata,
	}
	got, created, err := s.repo.GetOrCreateSnapshot(ctx, snap)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store snapshot: %w", err)
	}
	return got, created, nil
}

// History returns the content of up to limit snapshots of the target taken before
// latest, most recent first.
func (s *Store) History(ctx context.Context, latest *types.Snapshot, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	prior, err := s.repo.RecentSnapshots(ctx, latest.TargetID, latest.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot history: %w", err)
	}
	out := make([]string, 0, len(prior))
	for _, p := range prior {
		out = append(out, p.Content)
	}
	return out, nil
}
