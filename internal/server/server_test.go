package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/rivalops/internal/config"
	"github.com/jonathan/rivalops/internal/db"
	"github.com/jonathan/rivalops/internal/db/memdb"
	"github.com/jonathan/rivalops/internal/llm"
	"github.com/jonathan/rivalops/internal/notify"
	"github.com/jonathan/rivalops/internal/observability"
	"github.com/jonathan/rivalops/internal/pipeline"
	"github.com/jonathan/rivalops/internal/server/ratelimit"
	"github.com/jonathan/rivalops/internal/types"
)

// mockProcessor is a function-field fake of the pipeline orchestrator.
type mockProcessor struct {
	ProcessFunc func(ctx context.Context, id uuid.UUID) (*pipeline.RunOutcome, error)
}

func (m *mockProcessor) Process(ctx context.Context, id uuid.UUID) (*pipeline.RunOutcome, error) {
	return m.ProcessFunc(ctx, id)
}

// mockDeliverer records delivery requests.
type mockDeliverer struct {
	DeliverFunc func(ctx context.Context, id uuid.UUID) (*notify.Delivery, error)
	calls       []uuid.UUID
}

func (m *mockDeliverer) DeliverBriefing(ctx context.Context, id uuid.UUID) (*notify.Delivery, error) {
	m.calls = append(m.calls, id)
	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, id)
	}
	return &notify.Delivery{BriefingID: id, Marker: notify.SlackPostedMarker}, nil
}

type fixture struct {
	store     *memdb.Store
	auth      *config.ReviewAuthConfig
	server    *Server
	processor *mockProcessor
	deliverer *mockDeliverer

	target   *types.Target
	run      *types.Run
	analysis *types.Analysis
	briefing *types.Briefing
	reviewer *types.Reviewer
	token    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:     memdb.New(),
		auth:      &config.ReviewAuthConfig{JWTSecret: testSecret, ExpirationHours: 1, BcryptCost: 4},
		processor: &mockProcessor{},
		deliverer: &mockDeliverer{},
	}

	comp := &types.Competitor{Name: "Acme"}
	require.NoError(t, f.store.CreateCompetitor(ctx, comp))
	f.target = &types.Target{CompetitorID: comp.ID, URL: "https://acme.example/pricing", Label: "Acme pricing", Enabled: true}
	require.NoError(t, f.store.CreateTarget(ctx, f.target))
	f.run = &types.Run{TargetID: f.target.ID, Status: types.RunStatusDrift}
	require.NoError(t, f.store.CreateRun(ctx, f.run))
	f.analysis = &types.Analysis{RunID: f.run.ID, Model: "gpt-4o", DriftScore: 0.8, Decision: types.DecisionDrift}
	require.NoError(t, f.store.SaveAnalysis(ctx, f.analysis))
	f.briefing = &types.Briefing{
		RunID:            f.run.ID,
		Title:            "Acme raised Pro pricing",
		ExecutiveSummary: "Pro moved to $75.",
		DetailsMarkdown:  "- storage 150GB",
		RiskLevel:        types.RiskHigh,
	}
	require.NoError(t, f.store.CreateBriefing(ctx, f.briefing))

	hash, err := f.auth.HashPassword("password123")
	require.NoError(t, err)
	f.reviewer = &types.Reviewer{Email: "dana@example.com", DisplayName: "Dana", PasswordHash: hash}
	require.NoError(t, f.store.CreateReviewer(ctx, f.reviewer))

	f.server, err = New(Config{
		Auth:      f.auth,
		RateLimit: &ratelimit.Config{Enabled: false},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   observability.NewMetrics(),
	}, f.store, f.processor, f.deliverer)
	require.NoError(t, err)
	t.Cleanup(f.server.Close)

	f.token, err = f.server.jwtService.GenerateToken(f.reviewer.ID, f.reviewer.Email)
	require.NoError(t, err)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNew_RequiresAuth(t *testing.T) {
	_, err := New(Config{}, memdb.New(), nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.server.metrics.RunFinished(types.RunStatusDrift, time.Second)

	w := f.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `rivalops_runs_total{status="drift"} 1`)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/auth/login", `{"email":"DANA@example.com","password":"password123"}`, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[types.LoginResponse](t, w)
	assert.Equal(t, f.reviewer.ID, resp.Reviewer.ID)
	assert.NotContains(t, w.Body.String(), "password_hash")

	claims, err := f.server.jwtService.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", claims.Email)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"email":"dana@example.com","password":"nope-nope"}`, http.StatusUnauthorized},
		{"unknown reviewer", `{"email":"eve@example.com","password":"password123"}`, http.StatusUnauthorized},
		{"missing password", `{"email":"dana@example.com"}`, http.StatusBadRequest},
		{"bad json", `{"email":`, http.StatusBadRequest},
		{"unknown field", `{"email":"dana@example.com","password":"x","admin":true}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/auth/login", tt.body, false)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestReviewQueue(t *testing.T) {
	f := newFixture(t)

	approved := &types.Briefing{RunID: uuid.New(), Title: "Old news", RiskLevel: types.RiskLow, ReviewStatus: types.ReviewApproved}
	require.NoError(t, f.store.CreateBriefing(context.Background(), approved))

	w := f.do(t, http.MethodGet, "/review/queue", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Briefings []types.Briefing `json:"briefings"`
		Count     int              `json:"count"`
	}](t, w)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, f.briefing.ID, resp.Briefings[0].ID)

	w = f.do(t, http.MethodGet, "/review/queue?limit=0", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReview(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/review/"+f.briefing.ID.String(), "", false)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[ReviewDetail](t, w)
	assert.Equal(t, f.briefing.Title, detail.Briefing.Title)
	require.NotNil(t, detail.Target)
	assert.Equal(t, "Acme pricing", detail.Target.Label)
	require.NotNil(t, detail.Analysis)
	assert.Equal(t, 0.8, detail.Analysis.DriftScore)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/review/"+uuid.NewString(), "", false).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/review/42", "", false).Code)
}

func TestApprove_WithEditsDelivers(t *testing.T) {
	f := newFixture(t)

	body := `{"title":"  Acme Pro now $75  ","executive_summary":"Edited summary"}`
	w := f.do(t, http.MethodPost, "/review/"+f.briefing.ID.String()+"/approve", body, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[ApproveResponse](t, w)
	assert.Equal(t, notify.SlackPostedMarker, resp.Delivery.Marker)
	assert.Empty(t, resp.DeliveryError)
	assert.Equal(t, []uuid.UUID{f.briefing.ID}, f.deliverer.calls)

	stored, err := f.store.GetBriefing(context.Background(), f.briefing.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewApproved, stored.ReviewStatus)
	assert.Equal(t, "Acme Pro now $75", stored.Title)
	assert.Equal(t, "Edited summary", stored.ExecutiveSummary)
	assert.Equal(t, "- storage 150GB", stored.DetailsMarkdown, "unedited fields are kept")
	assert.Equal(t, "dana@example.com", stored.ReviewedBy)
	assert.NotNil(t, stored.ReviewedAt)
}

func TestApprove_EmptyBody(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/review/"+f.briefing.ID.String()+"/approve", "", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestApprove_DeliveryFailureStillApproves(t *testing.T) {
	f := newFixture(t)
	f.deliverer.DeliverFunc = func(context.Context, uuid.UUID) (*notify.Delivery, error) {
		return nil, errors.New("webhook down")
	}

	w := f.do(t, http.MethodPost, "/review/"+f.briefing.ID.String()+"/approve", "{}", true)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ApproveResponse](t, w)
	assert.Contains(t, resp.DeliveryError, "webhook down")
	assert.Equal(t, types.ReviewApproved, resp.Briefing.ReviewStatus)
}

func TestApprove_Rejections(t *testing.T) {
	f := newFixture(t)
	path := "/review/" + f.briefing.ID.String() + "/approve"

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, path, "{}", false).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, path, `{"title":"   "}`, true).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/review/"+uuid.NewString()+"/approve", "{}", true).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/review/"+f.briefing.ID.String()+"/reject", `{"reason":"wrong page"}`, true).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, path, "{}", true).Code)
	assert.Empty(t, f.deliverer.calls)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	path := "/review/" + f.briefing.ID.String() + "/reject"

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, path, `{"reason":"  "}`, true).Code)

	w := f.do(t, http.MethodPost, path, `{"reason":"Not a real price change"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := f.store.GetBriefing(context.Background(), f.briefing.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewRejected, stored.ReviewStatus)
	assert.Equal(t, "- storage 150GB\n\n---\n\n[REJECTED REASON]\nNot a real price change", stored.DetailsMarkdown)
	assert.Equal(t, "dana@example.com", stored.ReviewedBy)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, path, `{"reason":"again"}`, true).Code)
}

// interleavedStore runs between once, right after the first briefing read, to
// land a competing review decision before the handler writes its own.
type interleavedStore struct {
	*memdb.Store
	between func()
	once    sync.Once
}

func (s *interleavedStore) GetBriefing(ctx context.Context, id uuid.UUID) (*types.Briefing, error) {
	b, err := s.Store.GetBriefing(ctx, id)
	s.once.Do(s.between)
	return b, err
}

func TestApprove_LosesToConcurrentReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &interleavedStore{Store: f.store, between: func() {
		b, err := f.store.GetBriefing(ctx, f.briefing.ID)
		require.NoError(t, err)
		b.ReviewStatus = types.ReviewRejected
		b.ReviewedBy = "other@example.com"
		require.NoError(t, f.store.UpdateBriefingReview(ctx, b, types.ReviewPending))
	}}
	var err error
	f.server, err = New(Config{
		Auth:      f.auth,
		RateLimit: &ratelimit.Config{Enabled: false},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   observability.NewMetrics(),
	}, store, f.processor, f.deliverer)
	require.NoError(t, err)
	t.Cleanup(f.server.Close)

	w := f.do(t, http.MethodPost, "/review/"+f.briefing.ID.String()+"/approve", "{}", true)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "briefing is already rejected")
	assert.Empty(t, f.deliverer.calls)

	stored, err := f.store.GetBriefing(ctx, f.briefing.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewRejected, stored.ReviewStatus)
	assert.Equal(t, "other@example.com", stored.ReviewedBy)
}

func TestReject_LosesToConcurrentApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &interleavedStore{Store: f.store, between: func() {
		b, err := f.store.GetBriefing(ctx, f.briefing.ID)
		require.NoError(t, err)
		b.ReviewStatus = types.ReviewApproved
		require.NoError(t, f.store.UpdateBriefingReview(ctx, b, types.ReviewPending))
	}}
	var err error
	f.server, err = New(Config{
		Auth:      f.auth,
		RateLimit: &ratelimit.Config{Enabled: false},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   observability.NewMetrics(),
	}, store, f.processor, f.deliverer)
	require.NoError(t, err)
	t.Cleanup(f.server.Close)

	w := f.do(t, http.MethodPost, "/review/"+f.briefing.ID.String()+"/reject", `{"reason":"wrong page"}`, true)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "briefing is already approved")

	stored, err := f.store.GetBriefing(ctx, f.briefing.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewApproved, stored.ReviewStatus)
	assert.NotContains(t, stored.DetailsMarkdown, "wrong page")
}

func TestProcessTarget(t *testing.T) {
	f := newFixture(t)
	runID := uuid.New()
	f.processor.ProcessFunc = func(_ context.Context, id uuid.UUID) (*pipeline.RunOutcome, error) {
		assert.Equal(t, f.target.ID, id)
		return &pipeline.RunOutcome{RunID: runID, TargetID: id, Status: types.RunStatusNoChange}, nil
	}

	path := "/targets/" + f.target.ID.String() + "/process"
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, path, "", false).Code)

	w := f.do(t, http.MethodPost, path, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	outcome := decode[pipeline.RunOutcome](t, w)
	assert.Equal(t, runID, outcome.RunID)
	assert.Equal(t, types.RunStatusNoChange, outcome.Status)
}

func TestProcessTarget_Errors(t *testing.T) {
	f := newFixture(t)
	path := "/targets/" + f.target.ID.String() + "/process"

	tests := []struct {
		name    string
		outcome *pipeline.RunOutcome
		err     error
		want    int
	}{
		{"in progress", nil, pipeline.ErrRunInProgress, http.StatusConflict},
		{"missing target", nil, &pipeline.TargetNotFoundError{TargetID: f.target.ID, Cause: db.ErrNotFound}, http.StatusNotFound},
		{"no model credential", &pipeline.RunOutcome{Status: types.RunStatusError}, fmt.Errorf("analysis failed: %w", llm.ErrModelUnavailable), http.StatusServiceUnavailable},
		{"fetch failure", &pipeline.RunOutcome{Status: types.RunStatusError, Error: "fetch failed"}, errors.New("fetch failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.processor.ProcessFunc = func(context.Context, uuid.UUID) (*pipeline.RunOutcome, error) {
				return tt.outcome, tt.err
			}
			w := f.do(t, http.MethodPost, path, "", true)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.outcome != nil {
				outcome := decode[pipeline.RunOutcome](t, w)
				assert.Equal(t, types.RunStatusError, outcome.Status)
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/runs/"+f.run.ID.String(), "", false)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[RunDetail](t, w)
	assert.Equal(t, f.run.ID, detail.Run.ID)
	require.NotNil(t, detail.Analysis)
	require.NotNil(t, detail.Briefing)
	assert.Equal(t, f.briefing.ID, detail.Briefing.ID)

	bare := &types.Run{TargetID: f.target.ID}
	require.NoError(t, f.store.CreateRun(context.Background(), bare))
	detail = decode[RunDetail](t, f.do(t, http.MethodGet, "/runs/"+bare.ID.String(), "", false))
	assert.Nil(t, detail.Analysis)
	assert.Nil(t, detail.Briefing)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/runs/"+uuid.NewString(), "", false).Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t)
	limited, err := New(Config{
		Auth:      f.auth,
		RateLimit: &ratelimit.Config{Enabled: true, DefaultLimit: 2, DefaultWindow: time.Minute},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, f.store, f.processor, f.deliverer)
	require.NoError(t, err)
	defer limited.Close()

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/review/queue", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		limited.Handler().ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, get().Code)
	w := get()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

	w = get()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodOptions, "/review/queue", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestInternalErrorsAreMasked(t *testing.T) {
	f := newFixture(t)
	f.processor.ProcessFunc = func(context.Context, uuid.UUID) (*pipeline.RunOutcome, error) {
		return nil, errors.New("pq: connection string with password=hunter2")
	}
	w := f.do(t, http.MethodPost, "/targets/"+f.target.ID.String()+"/process", "", true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, bytes.Contains(w.Body.Bytes(), []byte("hunter2")))
}
