package briefing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/rivalops/internal/llm"
	"github.com/jonathan/rivalops/internal/types"
)

// MockLLMClient implements llm.Client for testing
type MockLLMClient struct {
	GenerateJSONFunc func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
}

func (m *MockLLMClient) GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	if m.GenerateJSONFunc != nil {
		return m.GenerateJSONFunc(ctx, prompt, tier)
	}
	return `{"title": "Mock"}`, nil
}

func (m *MockLLMClient) GetModel(llm.ModelTier) string { return "mock-model" }

func (m *MockLLMClient) Close() error { return nil }

func driftAnalysis() *types.Analysis {
	return &types.Analysis{
		RunID:      uuid.New(),
		Model:      "gpt-4o",
		DriftScore: 0.8,
		Decision:   types.DecisionDrift,
		DiffSummary: types.DiffSummary{
			ChangeTypes:          []string{"pricing"},
			Evidence:             []string{"Pro plan: $75/month"},
			RecommendedFollowups: []string{"Review our Pro pricing"},
		},
	}
}

func testTarget() *types.Target {
	return &types.Target{URL: "https://acme.example/pricing", Label: "Acme pricing"}
}

func TestDraft_Success(t *testing.T) {
	var gotPrompt string
	var gotTier llm.ModelTier
	mock := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, prompt string, tier llm.ModelTier) (string, error) {
			gotPrompt, gotTier = prompt, tier
			return `{
				"title": "Acme raises Pro price by 50%",
				"executive_summary": ["Pro moved from $50 to $75", "- Storage raised to 150GB"],
				"details_markdown": "## What changed\nPrice.",
				"risk_level": "HIGH"
			}`, nil
		},
	}
	a := driftAnalysis()

	b, err := NewDrafter(mock, nil).Draft(context.Background(), testTarget(), a)
	require.NoError(t, err)

	assert.Equal(t, llm.TierFast, gotTier)
	assert.Contains(t, gotPrompt, "target_label: Acme pricing")
	assert.Contains(t, gotPrompt, "target_url: https://acme.example/pricing")
	assert.Contains(t, gotPrompt, "drift_score: 0.8")
	assert.Contains(t, gotPrompt, `["pricing"]`)

	assert.Equal(t, a.RunID, b.RunID)
	assert.Equal(t, "Acme raises Pro price by 50%", b.Title)
	assert.Equal(t, "- Pro moved from $50 to $75\n- Storage raised to 150GB", b.ExecutiveSummary)
	assert.Equal(t, "## What changed\nPrice.", b.DetailsMarkdown)
	assert.Equal(t, types.RiskHigh, b.RiskLevel)
	assert.Equal(t, types.ReviewPending, b.ReviewStatus)
	assert.NoError(t, b.Validate())
}

func TestDraft_Defaults(t *testing.T) {
	mock := &MockLLMClient{
		GenerateJSONFunc: func(context.Context, string, llm.ModelTier) (string, error) {
			return `{"title": "", "executive_summary": "Plain summary", "risk_level": null}`, nil
		},
	}

	b, err := NewDrafter(mock, nil).Draft(context.Background(), testTarget(), driftAnalysis())
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, b.Title)
	assert.Equal(t, "Plain summary", b.ExecutiveSummary)
	assert.Equal(t, types.RiskMedium, b.RiskLevel)
	assert.Empty(t, b.DetailsMarkdown)
}

func TestDraft_EmptyObject(t *testing.T) {
	mock := &MockLLMClient{
		GenerateJSONFunc: func(context.Context, string, llm.ModelTier) (string, error) {
			return `{}`, nil
		},
	}

	b, err := NewDrafter(mock, nil).Draft(context.Background(), nil, driftAnalysis())
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, b.Title)
	assert.Equal(t, types.RiskMedium, b.RiskLevel)
}

func TestDraft_RejectsNoChange(t *testing.T) {
	a := driftAnalysis()
	a.Decision = types.DecisionNoChange

	_, err := NewDrafter(&MockLLMClient{}, nil).Draft(context.Background(), testTarget(), a)
	assert.Error(t, err)
}

func TestDraft_ParseErrors(t *testing.T) {
	for name, resp := range map[string]string{
		"prose":          "Here is your briefing!",
		"title number":   `{"title": 42}`,
		"summary object": `{"executive_summary": {"a": 1}}`,
	} {
		t.Run(name, func(t *testing.T) {
			mock := &MockLLMClient{
				GenerateJSONFunc: func(context.Context, string, llm.ModelTier) (string, error) {
					return resp, nil
				},
			}
			_, err := NewDrafter(mock, nil).Draft(context.Background(), testTarget(), driftAnalysis())
			var parseErr *llm.ResponseParseError
			assert.True(t, errors.As(err, &parseErr), "got %v", err)
		})
	}
}

func TestDraft_ModelUnavailable(t *testing.T) {
	d := NewDrafter(&llm.Unavailable{}, nil)

	_, err := d.Draft(context.Background(), testTarget(), driftAnalysis())
	assert.ErrorIs(t, err, llm.ErrModelUnavailable)
}

func TestSummaryText(t *testing.T) {
	got, err := summaryText(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = summaryText([]byte(`["a", "", "* b"]`))
	require.NoError(t, err)
	assert.Equal(t, "- a\n- b", got)

	_, err = summaryText([]byte(`7`))
	assert.Error(t, err)
}
