package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/rivalops/internal/briefing"
	"github.com/jonathan/rivalops/internal/db/memdb"
	"github.com/jonathan/rivalops/internal/drift"
	"github.com/jonathan/rivalops/internal/fetch"
	"github.com/jonathan/rivalops/internal/llm"
	"github.com/jonathan/rivalops/internal/types"
)

// scriptedLLM answers analysis prompts per tier and briefing prompts with a fixed draft.
type scriptedLLM struct {
	mu       sync.Mutex
	fast     string
	smart    string
	briefing string
	calls    []llm.ModelTier
}

func (s *scriptedLLM) GenerateJSON(_ context.Context, prompt string, tier llm.ModelTier) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, tier)
	if containsBriefingPrompt(prompt) {
		return s.briefing, nil
	}
	if tier == llm.TierSmart {
		return s.smart, nil
	}
	return s.fast, nil
}

func (s *scriptedLLM) GetModel(tier llm.ModelTier) string {
	if tier == llm.TierSmart {
		return "gpt-4o"
	}
	return "gpt-4o-mini"
}

func (s *scriptedLLM) Close() error { return nil }

func (s *scriptedLLM) Calls() []llm.ModelTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ModelTier(nil), s.calls...)
}

func containsBriefingPrompt(prompt string) bool {
	return strings.Contains(prompt, "executive briefing generator")
}

const briefingJSON = `{"title": "Acme raises prices", "executive_summary": ["Pro now $75"], "details_markdown": "## What changed", "risk_level": "high"}`

func seedTarget(t *testing.T, store *memdb.Store) *types.Target {
	t.Helper()
	ctx := context.Background()
	c := &types.Competitor{Name: "Acme " + uuid.NewString()}
	require.NoError(t, store.CreateCompetitor(ctx, c))
	tg := &types.Target{CompetitorID: c.ID, URL: "https://acme.example/pricing", Label: "Acme pricing", Enabled: true}
	require.NoError(t, store.CreateTarget(ctx, tg))
	return tg
}

// contentSource returns whatever content is currently set.
type contentSource struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
}

func (c *contentSource) FetchTarget(context.Context, *types.Target) (*fetch.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &fetch.Result{Content: c.content, Metadata: map[string]any{"status_code": 200}}, nil
}

func (c *contentSource) set(content string) {
	c.mu.Lock()
	c.content = content
	c.mu.Unlock()
}

type fixture struct {
	store  *memdb.Store
	target *types.Target
	source *contentSource
	llm    *scriptedLLM
	orch   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memdb.New()
	f := &fixture{
		store:  store,
		target: seedTarget(t, store),
		source: &contentSource{},
		llm:    &scriptedLLM{briefing: briefingJSON},
	}
	f.orch = New(store, f.source, drift.NewAnalyzer(f.llm, drift.Options{}), briefing.NewDrafter(f.llm, nil), Options{})
	return f
}

func (f *fixture) briefings(t *testing.T) []types.Briefing {
	t.Helper()
	list, err := f.store.ListBriefings(context.Background(), "", 0)
	require.NoError(t, err)
	return list
}

func (f *fixture) snapshotCount(t *testing.T) int {
	t.Helper()
	n, err := f.store.CountSnapshots(context.Background(), f.target.ID)
	require.NoError(t, err)
	return n
}

// Scenarios A through D run in sequence against the same target.
func TestProcess_Scenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A: first snapshot, low score.
	f.source.set("# Pricing\nPro: $50/month\n100GB storage")
	f.llm.fast = `{"decision": "no_change", "drift_score": 0.1}`

	outA, err := f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusNoChange, outA.Status)
	assert.Equal(t, PhaseNoChange, outA.Phase)
	assert.True(t, outA.SnapshotCreated)
	assert.Equal(t, 1, f.snapshotCount(t))
	assert.Empty(t, f.briefings(t))

	runA, err := f.store.GetRun(ctx, outA.RunID)
	require.NoError(t, err)
	require.NotNil(t, runA.EndedAt)
	assert.Equal(t, *outA.SnapshotID, *runA.SnapshotID)

	// B: same content again, no new snapshot.
	outB, err := f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	assert.False(t, outB.SnapshotCreated)
	assert.Equal(t, *outA.SnapshotID, *outB.SnapshotID)
	assert.Equal(t, 1, f.snapshotCount(t))
	assert.Equal(t, types.RunStatusNoChange, outB.Status)
	assert.Nil(t, outB.AnalysisID)
	assert.Len(t, f.llm.Calls(), 1)

	// C: new content, gray zone escalation.
	f.source.set("# Pricing\nPro: $75/month\n150GB storage\nAI Insights (NEW)")
	f.llm.fast = `{"decision": "drift", "drift_score": 0.5}`
	f.llm.smart = `{"decision": "drift", "drift_score": 0.8, "change_types": ["pricing"]}`

	outC, err := f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	assert.True(t, outC.SnapshotCreated)
	assert.Equal(t, 2, f.snapshotCount(t))
	assert.Equal(t, types.RunStatusDrift, outC.Status)
	assert.Equal(t, PhasePendingReview, outC.Phase)
	assert.Equal(t, types.DecisionDrift, outC.Decision)
	require.NotNil(t, outC.DriftScore)
	assert.Equal(t, 0.8, *outC.DriftScore)
	assert.Equal(t, "gpt-4o", outC.Model)

	analysis, err := f.store.GetAnalysisByRun(ctx, outC.RunID)
	require.NoError(t, err)
	assert.Equal(t, 0.8, analysis.DriftScore)
	assert.Equal(t, "gpt-4o", analysis.Model)

	briefings := f.briefings(t)
	require.Len(t, briefings, 1)
	assert.Equal(t, outC.RunID, briefings[0].RunID)
	assert.Equal(t, types.ReviewPending, briefings[0].ReviewStatus)
	assert.Equal(t, *outC.BriefingID, briefings[0].ID)

	// D: upstream 503 on every attempt.
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var delays []time.Duration
	retrier := fetch.NewRetrier(fetch.NewHTTPFetcher(), fetch.RetryPolicy{MaxRetries: 3, BaseBackoff: 2 * time.Second, Timeout: 5 * time.Second}, nil)
	retrier.Sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	f.orch.source = fetch.NewStaticRouter(retrier)

	failing := &types.Target{CompetitorID: f.target.CompetitorID, URL: srv.URL + "/pricing", CrawlStrategy: types.CrawlHTML, Enabled: true}
	require.NoError(t, f.store.CreateTarget(ctx, failing))

	outD, err := f.orch.Process(ctx, failing.ID)
	require.Error(t, err)
	var transient *fetch.TransientFetchError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)

	require.NotNil(t, outD)
	assert.Equal(t, types.RunStatusError, outD.Status)
	assert.Equal(t, PhaseErrored, outD.Phase)
	runD, err := f.store.GetRun(ctx, outD.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusError, runD.Status)
	assert.Contains(t, runD.ErrorMessage, "gave up after 3 attempts")
	assert.Nil(t, runD.SnapshotID)
	assert.NotNil(t, runD.EndedAt)

	n, err := f.store.CountSnapshots(ctx, failing.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.store.GetAnalysisByRun(ctx, outD.RunID)
	assert.Error(t, err)
}

func TestProcess_ReanalyzesSnapshotWhoseAnalysisFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.set("content")
	f.llm.fast = `not json`

	out, err := f.orch.Process(ctx, f.target.ID)
	require.Error(t, err)
	var parseErr *llm.ResponseParseError
	assert.True(t, errors.As(err, &parseErr))
	assert.Equal(t, types.RunStatusError, out.Status)

	f.llm.fast = `{"decision": "no_change", "drift_score": 0.0}`
	out, err = f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	assert.False(t, out.SnapshotCreated)
	require.NotNil(t, out.AnalysisID)
	assert.Equal(t, types.RunStatusNoChange, out.Status)
}

func TestProcess_RevertedContentIsAnalyzedAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.set("# Pricing\nPro: $49/month")
	f.llm.fast = `{"decision": "no_change", "drift_score": 0.1}`
	first, err := f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusNoChange, first.Status)

	f.source.set("# Pricing\nPro: $75/month")
	f.llm.fast = `{"decision": "drift", "drift_score": 0.9, "change_types": ["pricing"]}`
	second, err := f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusDrift, second.Status)

	// Back to the first version: the snapshot is reused but the page changed
	// since the last completed run, so the model must see it.
	f.source.set("# Pricing\nPro: $49/month")
	calls := len(f.llm.Calls())
	third, err := f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	assert.False(t, third.SnapshotCreated)
	assert.Equal(t, *first.SnapshotID, *third.SnapshotID)
	require.NotNil(t, third.AnalysisID)
	assert.Equal(t, types.RunStatusDrift, third.Status)
	assert.Greater(t, len(f.llm.Calls()), calls)
	assert.Len(t, f.briefings(t), 2)

	// Fetching the same version again right after is skipped.
	calls = len(f.llm.Calls())
	fourth, err := f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Nil(t, fourth.AnalysisID)
	assert.Equal(t, types.RunStatusNoChange, fourth.Status)
	assert.Len(t, f.llm.Calls(), calls)
}

func TestProcess_ReanalyzeUnchangedOption(t *testing.T) {
	f := newFixture(t)
	f.orch.opts.ReanalyzeUnchanged = true
	ctx := context.Background()
	f.source.set("content")
	f.llm.fast = `{"decision": "no_change", "drift_score": 0.1}`

	_, err := f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	out, err := f.orch.Process(ctx, f.target.ID)
	require.NoError(t, err)
	assert.NotNil(t, out.AnalysisID)
	assert.Len(t, f.llm.Calls(), 2)
}

func TestProcess_TargetNotFound(t *testing.T) {
	f := newFixture(t)
	missing := uuid.New()

	out, err := f.orch.Process(context.Background(), missing)
	assert.Nil(t, out)
	var nf *TargetNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, missing, nf.TargetID)

	runs, err := f.store.ListRuns(context.Background(), missing, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Zero(t, f.source.calls)
}

func TestProcess_PermanentFetchError(t *testing.T) {
	f := newFixture(t)
	f.source.err = &fetch.PermanentFetchError{URL: f.target.URL, StatusCode: 404, Body: "gone", Reason: fetch.ReasonUpstream}

	out, err := f.orch.Process(context.Background(), f.target.ID)
	require.Error(t, err)
	assert.Equal(t, types.RunStatusError, out.Status)
	assert.Contains(t, out.Error, "non-success status 404")
}

func TestProcess_ModelUnavailable(t *testing.T) {
	store := memdb.New()
	target := seedTarget(t, store)
	unavailable := &llm.Unavailable{Config: llm.DefaultConfig()}
	orch := New(store, &contentSource{content: "page"}, drift.NewAnalyzer(unavailable, drift.Options{}), briefing.NewDrafter(unavailable, nil), Options{})

	out, err := orch.Process(context.Background(), target.ID)
	assert.ErrorIs(t, err, llm.ErrModelUnavailable)
	assert.Equal(t, types.RunStatusError, out.Status)
	assert.NotNil(t, out.SnapshotID, "snapshot is stored before analysis")
}

func TestProcess_DraftFailureEndsInError(t *testing.T) {
	f := newFixture(t)
	f.source.set("content")
	f.llm.fast = `{"decision": "drift", "drift_score": 0.9}`
	f.llm.briefing = `nope`

	out, err := f.orch.Process(context.Background(), f.target.ID)
	require.Error(t, err)
	assert.Equal(t, types.RunStatusError, out.Status)
	assert.NotNil(t, out.AnalysisID)
	assert.Empty(t, f.briefings(t))
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(context.Context, *types.Target, *types.Snapshot, []string) (*types.Analysis, error) {
	panic("nil map")
}

func TestProcess_RecoversPanic(t *testing.T) {
	f := newFixture(t)
	f.source.set("content")
	f.orch.analyzer = panickingAnalyzer{}

	out, err := f.orch.Process(context.Background(), f.target.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic during run: nil map")

	run, err := f.store.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusError, run.Status)
	assert.NotNil(t, run.EndedAt)
}

// blockingSource blocks until released, so a second Process can race the first.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) FetchTarget(ctx context.Context, _ *types.Target) (*fetch.Result, error) {
	close(b.entered)
	select {
	case <-b.release:
		return &fetch.Result{Content: "content"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestProcess_RejectsConcurrentRunForSameTarget(t *testing.T) {
	f := newFixture(t)
	f.llm.fast = `{"decision": "no_change", "drift_score": 0.1}`
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	f.orch.source = src

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Process(context.Background(), f.target.ID)
		done <- err
	}()
	<-src.entered

	out, err := f.orch.Process(context.Background(), f.target.ID)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(src.release)
	require.NoError(t, <-done)

	runs, err := f.store.ListRuns(context.Background(), f.target.ID, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestProcess_CancelledRunIsFinalized(t *testing.T) {
	f := newFixture(t)
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	f.orch.source = src
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-src.entered
		cancel()
	}()

	out, err := f.orch.Process(ctx, f.target.ID)
	require.ErrorIs(t, err, context.Canceled)

	run, err := f.store.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusError, run.Status)
	assert.NotNil(t, run.EndedAt)
}

type recordingObserver struct {
	statuses []types.RunStatus
}

func (r *recordingObserver) RunFinished(status types.RunStatus, _ time.Duration) {
	r.statuses = append(r.statuses, status)
}

func TestProcess_ObserverAndProgress(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}
	var phases []Phase
	f.orch.opts.Observer = obs
	f.orch.opts.OnProgress = func(e ProgressEvent) { phases = append(phases, e.Phase) }
	f.source.set("content")
	f.llm.fast = `{"decision": "drift", "drift_score": 0.9}`

	_, err := f.orch.Process(context.Background(), f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.RunStatus{types.RunStatusDrift}, obs.statuses)
	assert.Equal(t, []Phase{PhaseFetched, PhaseAnalyzed, PhaseDrift, PhaseDrafted, PhasePendingReview}, phases)
}
