package memdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/rivalops/internal/db"
	"github.com/jonathan/rivalops/internal/types"
)

func seed(t *testing.T, s *Store) *types.Target {
	t.Helper()
	ctx := context.Background()
	comp := &types.Competitor{Name: "Acme"}
	require.NoError(t, s.CreateCompetitor(ctx, comp))
	tg := &types.Target{CompetitorID: comp.ID, URL: "https://acme.example/pricing", Enabled: true}
	require.NoError(t, s.CreateTarget(ctx, tg))
	return tg
}

func TestStore_TargetDefaultsAndConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()
	tg := seed(t, s)

	assert.Equal(t, types.CrawlMarkdown, tg.CrawlStrategy)
	assert.Equal(t, 60, tg.ScheduleMinutes)

	dup := &types.Target{CompetitorID: tg.CompetitorID, URL: tg.URL}
	assert.ErrorIs(t, s.CreateTarget(ctx, dup), db.ErrConflict)
	assert.ErrorIs(t, s.CreateCompetitor(ctx, &types.Competitor{Name: "Acme"}), db.ErrConflict)

	_, err := s.GetTarget(ctx, uuid.New())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestStore_SnapshotDedup(t *testing.T) {
	s := New()
	ctx := context.Background()
	tg := seed(t, s)

	first, created, err := s.GetOrCreateSnapshot(ctx, &types.Snapshot{TargetID: tg.ID, ContentHash: "h1", Content: "v1"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.GetOrCreateSnapshot(ctx, &types.Snapshot{TargetID: tg.ID, ContentHash: "h1", Content: "v1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.FetchedAt, again.FetchedAt)

	_, _, err = s.GetOrCreateSnapshot(ctx, &types.Snapshot{TargetID: uuid.New(), ContentHash: "h1"})
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestStore_RecentSnapshotsOrder(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()
	tg := seed(t, s)

	var ids []uuid.UUID
	for _, h := range []string{"a", "b", "c", "d", "e"} {
		snap, _, err := s.GetOrCreateSnapshot(ctx, &types.Snapshot{TargetID: tg.ID, ContentHash: h, Content: h})
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	recent, err := s.RecentSnapshots(ctx, tg.ID, ids[4], 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "d", recent[0].Content)
	assert.Equal(t, "c", recent[1].Content)
	assert.Equal(t, "b", recent[2].Content)
}

func TestStore_AnalysisValidation(t *testing.T) {
	s := New()
	ctx := context.Background()
	tg := seed(t, s)

	run := &types.Run{TargetID: tg.ID}
	require.NoError(t, s.CreateRun(ctx, run))

	err := s.SaveAnalysis(ctx, &types.Analysis{RunID: run.ID, Model: "m", DriftScore: -0.5, Decision: types.DecisionNoChange})
	require.Error(t, err)

	require.NoError(t, s.SaveAnalysis(ctx, &types.Analysis{RunID: run.ID, Model: "m", DriftScore: 0.2, Decision: types.DecisionNoChange}))
	assert.ErrorIs(t, s.SaveAnalysis(ctx, &types.Analysis{RunID: run.ID, Model: "m", DriftScore: 0.2, Decision: types.DecisionNoChange}), db.ErrConflict)
}

func TestStore_BriefingDeliveryMarker(t *testing.T) {
	s := New()
	ctx := context.Background()
	tg := seed(t, s)
	run := &types.Run{TargetID: tg.ID}
	require.NoError(t, s.CreateRun(ctx, run))

	b := &types.Briefing{RunID: run.ID, Title: "t", RiskLevel: types.RiskLow}
	require.NoError(t, s.CreateBriefing(ctx, b))
	assert.Equal(t, types.ReviewPending, b.ReviewStatus)

	ok, err := s.MarkBriefingDelivered(ctx, b.ID, "posted")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkBriefingDelivered(ctx, b.ID, "other")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetBriefing(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "posted", got.DeliveredMarker)

	pending, err := s.ListBriefings(ctx, types.ReviewPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStore_UpdateBriefingReviewComparesStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	tg := seed(t, s)
	run := &types.Run{TargetID: tg.ID}
	require.NoError(t, s.CreateRun(ctx, run))
	b := &types.Briefing{RunID: run.ID, Title: "t", RiskLevel: types.RiskLow}
	require.NoError(t, s.CreateBriefing(ctx, b))

	rejected := *b
	rejected.ReviewStatus = types.ReviewRejected
	rejected.DetailsMarkdown = "rejected: stale page"
	require.NoError(t, s.UpdateBriefingReview(ctx, &rejected, types.ReviewPending))

	// An approval decided against the pending briefing must not overwrite the rejection.
	approved := *b
	approved.ReviewStatus = types.ReviewApproved
	err := s.UpdateBriefingReview(ctx, &approved, types.ReviewPending)
	require.ErrorIs(t, err, db.ErrReviewChanged)
	assert.Contains(t, err.Error(), "now rejected")

	got, err := s.GetBriefing(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewRejected, got.ReviewStatus)
	assert.Equal(t, "rejected: stale page", got.DetailsMarkdown)

	missing := *b
	missing.ID = uuid.New()
	assert.ErrorIs(t, s.UpdateBriefingReview(ctx, &missing, types.ReviewPending), db.ErrNotFound)
}

func TestStore_LatestCompletedSnapshotID(t *testing.T) {
	s := New()
	ctx := context.Background()
	tg := seed(t, s)

	last, err := s.LatestCompletedSnapshotID(ctx, tg.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	snapA, _, err := s.GetOrCreateSnapshot(ctx, &types.Snapshot{TargetID: tg.ID, ContentHash: "a", Content: "a"})
	require.NoError(t, err)
	snapB, _, err := s.GetOrCreateSnapshot(ctx, &types.Snapshot{TargetID: tg.ID, ContentHash: "b", Content: "b"})
	require.NoError(t, err)

	finish := func(snap uuid.UUID, status types.RunStatus) {
		t.Helper()
		r := &types.Run{TargetID: tg.ID}
		require.NoError(t, s.CreateRun(ctx, r))
		r.SnapshotID = &snap
		r.Status = status
		require.NoError(t, s.UpdateRun(ctx, r))
	}

	finish(snapA.ID, types.RunStatusNoChange)
	finish(snapB.ID, types.RunStatusDrift)
	last, err = s.LatestCompletedSnapshotID(ctx, tg.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, snapB.ID, *last)

	// Failed and unfinished runs do not count.
	finish(snapA.ID, types.RunStatusError)
	finish(snapA.ID, types.RunStatusFetched)
	last, err = s.LatestCompletedSnapshotID(ctx, tg.ID)
	require.NoError(t, err)
	assert.Equal(t, snapB.ID, *last)

	finish(snapA.ID, types.RunStatusNoChange)
	last, err = s.LatestCompletedSnapshotID(ctx, tg.ID)
	require.NoError(t, err)
	assert.Equal(t, snapA.ID, *last)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	tg := seed(t, s)

	got, err := s.GetTarget(ctx, tg.ID)
	require.NoError(t, err)
	got.URL = "mutated"

	again, err := s.GetTarget(ctx, tg.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example/pricing", again.URL)
}

func TestStore_Reviewers(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := &types.Reviewer{Email: " Dana@Example.com ", DisplayName: "Dana", PasswordHash: "h"}
	require.NoError(t, s.CreateReviewer(ctx, r))
	assert.Equal(t, "dana@example.com", r.Email)

	got, err := s.GetReviewerByEmail(ctx, "DANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	assert.ErrorIs(t, s.CreateReviewer(ctx, &types.Reviewer{Email: "dana@example.com"}), db.ErrConflict)
}
