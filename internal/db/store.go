package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/types"
)

// Store is the full set of persistence operations. *DB and memdb.Store implement it;
// consumers usually depend on a narrower interface of their own.
type Store interface {
	CreateCompetitor(ctx context.Context, c *types.Competitor) error
	GetCompetitorByName(ctx context.Context, name string) (*types.Competitor, error)
	ListCompetitors(ctx context.Context) ([]types.Competitor, error)

	CreateTarget(ctx context.Context, t *types.Target) error
	GetTarget(ctx context.Context, id uuid.UUID) (*types.Target, error)
	ListTargets(ctx context.Context, enabledOnly bool) ([]types.Target, error)
	SetTargetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error

	GetOrCreateSnapshot(ctx context.Context, snap *types.Snapshot) (*types.Snapshot, bool, error)
	GetSnapshot(ctx context.Context, id uuid.UUID) (*types.Snapshot, error)
	RecentSnapshots(ctx context.Context, targetID, excludeID uuid.UUID, limit int) ([]types.Snapshot, error)
	CountSnapshots(ctx context.Context, targetID uuid.UUID) (int, error)

	CreateRun(ctx context.Context, r *types.Run) error
	UpdateRun(ctx context.Context, r *types.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*types.Run, error)
	ListRuns(ctx context.Context, targetID uuid.UUID, limit int) ([]types.Run, error)
	LatestCompletedSnapshotID(ctx context.Context, targetID uuid.UUID) (*uuid.UUID, error)
	LastRunStarts(ctx context.Context) (map[uuid.UUID]time.Time, error)

	SaveAnalysis(ctx context.Context, a *types.Analysis) error
	GetAnalysisByRun(ctx context.Context, runID uuid.UUID) (*types.Analysis, error)

	CreateBriefing(ctx context.Context, b *types.Briefing) error
	GetBriefing(ctx context.Context, id uuid.UUID) (*types.Briefing, error)
	GetBriefingByRun(ctx context.Context, runID uuid.UUID) (*types.Briefing, error)
	ListBriefings(ctx context.Context, status types.ReviewStatus, limit int) ([]types.Briefing, error)
	UpdateBriefingReview(ctx context.Context, b *types.Briefing, from types.ReviewStatus) error
	MarkBriefingDelivered(ctx context.Context, id uuid.UUID, marker string) (bool, error)

	CreateReviewer(ctx context.Context, r *types.Reviewer) error
	GetReviewerByEmail(ctx context.Context, email string) (*types.Reviewer, error)
	GetReviewer(ctx context.Context, id uuid.UUID) (*types.Reviewer, error)
}

var _ Store = (*DB)(nil)
