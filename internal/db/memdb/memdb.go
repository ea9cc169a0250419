// Package memdb is an in-memory implementation of the rivalops storage methods.
// It backs the simulate command and package tests; it is not durable.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/db"
	"github.com/jonathan/rivalops/internal/types"
)

// Store holds every entity in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	// Now supplies timestamps; defaults to time.Now.
	Now func() time.Time

	competitors map[uuid.UUID]*types.Competitor
	targets     map[uuid.UUID]*types.Target
	snapshots   map[uuid.UUID]*types.Snapshot
	snapSeq     map[uuid.UUID]int
	runs        map[uuid.UUID]*types.Run
	runSeq      map[uuid.UUID]int
	analyses    map[uuid.UUID]*types.Analysis // by run
	briefings   map[uuid.UUID]*types.Briefing
	reviewers   map[uuid.UUID]*types.Reviewer
	seq         int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		Now:         time.Now,
		competitors: make(map[uuid.UUID]*types.Competitor),
		targets:     make(map[uuid.UUID]*types.Target),
		snapshots:   make(map[uuid.UUID]*types.Snapshot),
		snapSeq:     make(map[uuid.UUID]int),
		runs:        make(map[uuid.UUID]*types.Run),
		runSeq:      make(map[uuid.UUID]int),
		analyses:    make(map[uuid.UUID]*types.Analysis),
		briefings:   make(map[uuid.UUID]*types.Briefing),
		reviewers:   make(map[uuid.UUID]*types.Reviewer),
	}
}

func notFound(op string) error {
	return &db.StorageError{Op: op, Cause: db.ErrNotFound}
}

func conflict(op string) error {
	return &db.StorageError{Op: op, Cause: db.ErrConflict}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// CreateCompetitor stores c.
func (s *Store) CreateCompetitor(_ context.Context, c *types.Competitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.competitors {
		if existing.Name == c.Name {
			return conflict("create competitor")
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = s.now()
	cp := *c
	s.competitors[c.ID] = &cp
	return nil
}

// GetCompetitorByName looks a competitor up by name.
func (s *Store) GetCompetitorByName(_ context.Context, name string) (*types.Competitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.competitors {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, notFound("get competitor " + name)
}

// ListCompetitors returns competitors ordered by name.
func (s *Store) ListCompetitors(_ context.Context) ([]types.Competitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Competitor, 0, len(s.competitors))
	for _, c := range s.competitors {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateTarget validates and stores t.
func (s *Store) CreateTarget(_ context.Context, t *types.Target) error {
	if t.CrawlStrategy == "" {
		t.CrawlStrategy = types.CrawlMarkdown
	}
	if t.ScheduleMinutes == 0 {
		t.ScheduleMinutes = 60
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.competitors[t.CompetitorID]; !ok {
		return notFound("get competitor " + t.CompetitorID.String())
	}
	for _, existing := range s.targets {
		if existing.CompetitorID == t.CompetitorID && existing.URL == t.URL {
			return conflict("create target")
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = s.now()
	cp := *t
	s.targets[t.ID] = &cp
	return nil
}

// GetTarget returns a target by ID.
func (s *Store) GetTarget(_ context.Context, id uuid.UUID) (*types.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok {
		return nil, notFound("get target " + id.String())
	}
	cp := *t
	return &cp, nil
}

// ListTargets returns targets ordered by creation time.
func (s *Store) ListTargets(_ context.Context, enabledOnly bool) ([]types.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if enabledOnly && !t.Enabled {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SetTargetEnabled toggles a target.
func (s *Store) SetTargetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok {
		return notFound("update target " + id.String())
	}
	t.Enabled = enabled
	return nil
}

// GetOrCreateSnapshot inserts snap unless the target already has a snapshot with the same hash.
func (s *Store) GetOrCreateSnapshot(_ context.Context, snap *types.Snapshot) (*types.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.targets[snap.TargetID]; !ok {
		return nil, false, notFound("get target " + snap.TargetID.String())
	}
	for _, existing := range s.snapshots {
		if existing.TargetID == snap.TargetID && existing.ContentHash == snap.ContentHash {
			cp := *existing
			return &cp, false, nil
		}
	}

	cp := *snap
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.FetchedAt = s.now()
	s.seq++
	s.snapshots[cp.ID] = &cp
	s.snapSeq[cp.ID] = s.seq
	out := cp
	return &out, true, nil
}

// GetSnapshot returns a snapshot by ID.
func (s *Store) GetSnapshot(_ context.Context, id uuid.UUID) (*types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return nil, notFound("get snapshot " + id.String())
	}
	cp := *snap
	return &cp, nil
}

// RecentSnapshots returns up to limit snapshots of a target other than excludeID, newest first.
// Snapshots fetched at the same instant are ordered by insertion.
func (s *Store) RecentSnapshots(_ context.Context, targetID, excludeID uuid.UUID, limit int) ([]types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Snapshot
	for _, snap := range s.snapshots {
		if snap.TargetID == targetID && snap.ID != excludeID {
			out = append(out, *snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FetchedAt.Equal(out[j].FetchedAt) {
			return out[i].FetchedAt.After(out[j].FetchedAt)
		}
		return s.snapSeq[out[i].ID] > s.snapSeq[out[j].ID]
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountSnapshots returns the number of snapshots of a target.
func (s *Store) CountSnapshots(_ context.Context, targetID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, snap := range s.snapshots {
		if snap.TargetID == targetID {
			n++
		}
	}
	return n, nil
}

// CreateRun stores r.
func (s *Store) CreateRun(_ context.Context, r *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.targets[r.TargetID]; !ok {
		return notFound("get target " + r.TargetID.String())
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Attempt == 0 {
		r.Attempt = 1
	}
	if r.Status == "" {
		r.Status = types.RunStatusStarted
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	cp := *r
	s.runs[r.ID] = &cp
	s.seq++
	s.runSeq[r.ID] = s.seq
	return nil
}

// UpdateRun overwrites the mutable fields of a stored run.
func (s *Store) UpdateRun(_ context.Context, r *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[r.ID]
	if !ok {
		return notFound("update run " + r.ID.String())
	}
	stored.SnapshotID = r.SnapshotID
	stored.Status = r.Status
	stored.EndedAt = r.EndedAt
	stored.ErrorMessage = r.ErrorMessage
	return nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(_ context.Context, id uuid.UUID) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, notFound("get run " + id.String())
	}
	cp := *r
	return &cp, nil
}

// ListRuns returns the most recent runs of a target.
func (s *Store) ListRuns(_ context.Context, targetID uuid.UUID, limit int) ([]types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Run
	for _, r := range s.runs {
		if r.TargetID == targetID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestCompletedSnapshotID returns the snapshot of the target's most recent
// successfully completed run, or nil.
func (s *Store) LatestCompletedSnapshotID(_ context.Context, targetID uuid.UUID) (*uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *types.Run
	for _, r := range s.runs {
		if r.TargetID != targetID || r.SnapshotID == nil ||
			(r.Status != types.RunStatusNoChange && r.Status != types.RunStatusDrift) {
			continue
		}
		if latest == nil || s.runSeq[r.ID] > s.runSeq[latest.ID] {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	id := *latest.SnapshotID
	return &id, nil
}

// LastRunStarts returns the latest run start per target.
func (s *Store) LastRunStarts(_ context.Context) (map[uuid.UUID]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uuid.UUID]time.Time)
	for _, r := range s.runs {
		if r.StartedAt.After(out[r.TargetID]) {
			out[r.TargetID] = r.StartedAt
		}
	}
	return out, nil
}

// SaveAnalysis validates and stores a.
func (s *Store) SaveAnalysis(_ context.Context, a *types.Analysis) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid analysis: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[a.RunID]; !ok {
		return notFound("get run " + a.RunID.String())
	}
	if _, ok := s.analyses[a.RunID]; ok {
		return conflict("save analysis")
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = s.now()
	cp := *a
	s.analyses[a.RunID] = &cp
	return nil
}

// GetAnalysisByRun returns the analysis of a run.
func (s *Store) GetAnalysisByRun(_ context.Context, runID uuid.UUID) (*types.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.analyses[runID]
	if !ok {
		return nil, notFound("get analysis for run " + runID.String())
	}
	cp := *a
	return &cp, nil
}

// CreateBriefing validates and stores b.
func (s *Store) CreateBriefing(_ context.Context, b *types.Briefing) error {
	if b.ReviewStatus == "" {
		b.ReviewStatus = types.ReviewPending
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid briefing: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.briefings {
		if existing.RunID == b.RunID {
			return conflict("create briefing")
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = s.now()
	cp := *b
	s.briefings[b.ID] = &cp
	return nil
}

// GetBriefing returns a briefing by ID.
func (s *Store) GetBriefing(_ context.Context, id uuid.UUID) (*types.Briefing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.briefings[id]
	if !ok {
		return nil, notFound("get briefing " + id.String())
	}
	cp := *b
	return &cp, nil
}

// GetBriefingByRun returns the briefing of a run.
func (s *Store) GetBriefingByRun(_ context.Context, runID uuid.UUID) (*types.Briefing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.briefings {
		if b.RunID == runID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, notFound("get briefing for run " + runID.String())
}

// ListBriefings returns briefings with status (all when empty), newest first.
func (s *Store) ListBriefings(_ context.Context, status types.ReviewStatus, limit int) ([]types.Briefing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Briefing
	for _, b := range s.briefings {
		if status == "" || b.ReviewStatus == status {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateBriefingReview persists review fields and edits if the stored status is still from.
func (s *Store) UpdateBriefingReview(_ context.Context, b *types.Briefing, from types.ReviewStatus) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid briefing: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.briefings[b.ID]
	if !ok {
		return notFound("update briefing " + b.ID.String())
	}
	if stored.ReviewStatus != from {
		return &db.StorageError{
			Op:    "update briefing " + b.ID.String(),
			Cause: fmt.Errorf("%w: now %s", db.ErrReviewChanged, stored.ReviewStatus),
		}
	}
	stored.Title = b.Title
	stored.ExecutiveSummary = b.ExecutiveSummary
	stored.DetailsMarkdown = b.DetailsMarkdown
	stored.ReviewStatus = b.ReviewStatus
	stored.ReviewedBy = b.ReviewedBy
	stored.ReviewedAt = b.ReviewedAt
	return nil
}

// MarkBriefingDelivered sets the delivery marker if none is set.
func (s *Store) MarkBriefingDelivered(_ context.Context, id uuid.UUID, marker string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.briefings[id]
	if !ok {
		return false, notFound("mark briefing delivered " + id.String())
	}
	if b.DeliveredMarker != "" {
		return false, nil
	}
	b.DeliveredMarker = marker
	return true, nil
}

// CreateReviewer stores r with a lower-cased email.
func (s *Store) CreateReviewer(_ context.Context, r *types.Reviewer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	for _, existing := range s.reviewers {
		if existing.Email == r.Email {
			return conflict("create reviewer")
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = s.now()
	cp := *r
	s.reviewers[r.ID] = &cp
	return nil
}

// GetReviewerByEmail looks a reviewer up by email.
func (s *Store) GetReviewerByEmail(_ context.Context, email string) (*types.Reviewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, r := range s.reviewers {
		if r.Email == email {
			cp := *r
			return &cp, nil
		}
	}
	return nil, notFound("get reviewer")
}

// GetReviewer looks a reviewer up by ID.
func (s *Store) GetReviewer(_ context.Context, id uuid.UUID) (*types.Reviewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviewers[id]
	if !ok {
		return nil, notFound("get reviewer " + id.String())
	}
	cp := *r
	return &cp, nil
}

var _ db.Store = (*Store)(nil)
