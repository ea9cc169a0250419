// Package briefing drafts executive briefings for pages that drifted.
package briefing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jonathan/rivalops/internal/llm"
	"github.com/jonathan/rivalops/internal/prompts"
	"github.com/jonathan/rivalops/internal/schemas"
	"github.com/jonathan/rivalops/internal/types"
)

// DefaultTitle is used when the model returns no title.
const DefaultTitle = "Competitor update"

// Drafter turns a drift Analysis into a pending Briefing.
type Drafter struct {
	client llm.Client
	logger *slog.Logger
}

// NewDrafter creates a Drafter. A nil logger uses slog.Default.
func NewDrafter(client llm.Client, logger *slog.Logger) *Drafter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drafter{client: client, logger: logger}
}

type draftResponse struct {
	Title            *string         `json:"title"`
	ExecutiveSummary json.RawMessage `json:"executive_summary"`
	DetailsMarkdown  *string         `json:"details_markdown"`
	RiskLevel        *string         `json:"risk_level"`
}

// Draft asks the fast model for a briefing on analysis. The returned Briefing is
// pending review and carries the analysis's RunID.
func (d *Drafter) Draft(ctx context.Context, target *types.Target, analysis *types.Analysis) (*types.Briefing, error) {
	if analysis.Decision != types.DecisionDrift {
		return nil, fmt.Errorf("briefing requested for decision %q", analysis.Decision)
	}

	prompt, err := buildPrompt(target, analysis)
	if err != nil {
		return nil, err
	}

	model := d.client.GetModel(llm.TierFast)
	raw, err := d.client.GenerateJSON(ctx, prompt, llm.TierFast)
	if err != nil {
		return nil, fmt.Errorf("briefing call failed: %w", err)
	}

	cleaned := llm.CleanJSONBlock(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, &llm.ResponseParseError{Model: model, Message: "response is not a JSON object", Raw: raw}
	}
	if err := schemas.Validate(schemas.Briefing, cleaned); err != nil {
		return nil, &llm.ResponseParseError{Model: model, Message: "response failed schema validation", Raw: raw, Cause: err}
	}

	var resp draftResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, &llm.ResponseParseError{Model: model, Message: "failed to decode response", Raw: raw, Cause: err}
	}
	summary, err := summaryText(resp.ExecutiveSummary)
	if err != nil {
		return nil, &llm.ResponseParseError{Model: model, Message: "invalid executive_summary", Raw: raw, Cause: err}
	}

	b := &types.Briefing{
		RunID:            analysis.RunID,
		Title:            DefaultTitle,
		ExecutiveSummary: summary,
		RiskLevel:        types.RiskMedium,
		ReviewStatus:     types.ReviewPending,
	}
	if resp.Title != nil && strings.TrimSpace(*resp.Title) != "" {
		b.Title = strings.TrimSpace(*resp.Title)
	}
	if resp.DetailsMarkdown != nil {
		b.DetailsMarkdown = *resp.DetailsMarkdown
	}
	if resp.RiskLevel != nil {
		b.RiskLevel = types.ParseRiskLevel(*resp.RiskLevel)
	}

	d.logger.Debug("drafted briefing", "run_id", analysis.RunID, "model", model, "risk_level", b.RiskLevel)
	return b, nil
}

// summaryText accepts a string or a list of bullet strings; lists become markdown bullets.
func summaryText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", err
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		item = strings.TrimLeft(item, "-* ")
		if item == "" {
			continue
		}
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n"), nil
}

func buildPrompt(target *types.Target, analysis *types.Analysis) (string, error) {
	var label, url string
	if target != nil {
		label, url = target.Label, target.URL
	}
	return prompts.Render(prompts.ExecutiveBriefing, map[string]string{
		"Label":       label,
		"URL":         url,
		"DriftScore":  strconv.FormatFloat(analysis.DriftScore, 'f', -1, 64),
		"ChangeTypes": jsonList(analysis.DiffSummary.ChangeTypes),
		"Evidence":    jsonList(analysis.DiffSummary.Evidence),
		"Followups":   jsonList(analysis.DiffSummary.RecommendedFollowups),
	})
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}
