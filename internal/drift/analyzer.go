// Package drift classifies how materially a competitor page changed, escalating
// borderline scores from the fast model to the smart model.
package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/rivalops/internal/llm"
	"github.com/jonathan/rivalops/internal/prompts"
	"github.com/jonathan/rivalops/internal/schemas"
	"github.com/jonathan/rivalops/internal/types"
)

// DefaultRationale is recorded when the model does not supply one.
const DefaultRationale = "LLM analysis of semantic changes"

// Default gray zone bounds, both inclusive.
const (
	DefaultGrayLow  = 0.45
	DefaultGrayHigh = 0.65
)

// Options configures an Analyzer.
type Options struct {
	GrayLow  float64
	GrayHigh float64
	Logger   *slog.Logger
	// OnEscalate is called each time a fast score triggers the smart model.
	OnEscalate func(fastScore float64)
}

// Analyzer produces an Analysis for a snapshot.
type Analyzer struct {
	client     llm.Client
	grayLow    float64
	grayHigh   float64
	logger     *slog.Logger
	onEscalate func(float64)
}

// NewAnalyzer creates an Analyzer. Zero gray zone bounds select the defaults.
func NewAnalyzer(client llm.Client, opts Options) *Analyzer {
	a := &Analyzer{
		client:     client,
		grayLow:    opts.GrayLow,
		grayHigh:   opts.GrayHigh,
		logger:     opts.Logger,
		onEscalate: opts.OnEscalate,
	}
	if a.grayLow == 0 && a.grayHigh == 0 {
		a.grayLow, a.grayHigh = DefaultGrayLow, DefaultGrayHigh
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// InGrayZone reports whether score falls inside the inclusive escalation band.
func (a *Analyzer) InGrayZone(score float64) bool {
	return score >= a.grayLow && score <= a.grayHigh
}

// verdict is the parsed model response.
type verdict struct {
	decision  types.Decision
	score     float64
	rationale string
	summary   types.DiffSummary
}

type rawVerdict struct {
	Decision             string            `json:"decision"`
	DriftScore           *float64          `json:"drift_score"`
	ChangeTypes          []string          `json:"change_types"`
	Evidence             []json.RawMessage `json:"evidence"`
	RecommendedFollowups []string          `json:"recommended_followups"`
	Rationale            string            `json:"rationale"`
}

// Analyze classifies snap against up to three prior snapshot contents, most recent first.
// target only labels the prompt and may be nil. The returned Analysis has no RunID.
func (a *Analyzer) Analyze(ctx context.Context, target *types.Target, snap *types.Snapshot, history []string) (*types.Analysis, error) {
	prompt, err := a.buildPrompt(target, snap, history)
	if err != nil {
		return nil, err
	}

	fastModel := a.client.GetModel(llm.TierFast)
	v, err := a.call(ctx, prompt, llm.TierFast, fastModel)
	if err != nil {
		return nil, err
	}
	model := fastModel

	smartModel := a.client.GetModel(llm.TierSmart)
	if a.InGrayZone(v.score) && smartModel != "" && smartModel != fastModel {
		a.logger.Info("escalating drift analysis",
			"snapshot_id", snap.ID, "fast_model", fastModel, "smart_model", smartModel, "drift_score", v.score)
		if a.onEscalate != nil {
			a.onEscalate(v.score)
		}
		v, err = a.call(ctx, prompt, llm.TierSmart, smartModel)
		if err != nil {
			return nil, err
		}
		model = smartModel
	}

	analysis := &types.Analysis{
		Model:       model,
		DriftScore:  v.score,
		Decision:    v.decision,
		Rationale:   v.rationale,
		DiffSummary: v.summary,
	}
	if err := analysis.Validate(); err != nil {
		return nil, &llm.ResponseParseError{Model: model, Message: "invalid analysis", Cause: err}
	}
	return analysis, nil
}

func (a *Analyzer) buildPrompt(target *types.Target, snap *types.Snapshot, history []string) (string, error) {
	label := "unknown"
	if target != nil {
		label = target.DisplayName()
		if target.Label != "" {
			label += " (" + target.URL + ")"
		}
	}
	snippets := HistorySnippets(history)
	return prompts.Render(prompts.DriftAnalysis, map[string]string{
		"Target":  label,
		"Latest":  truncate(snap.Content, MaxLatestChars),
		"History": historyText(snippets),
	})
}

func (a *Analyzer) call(ctx context.Context, prompt string, tier llm.ModelTier, model string) (*verdict, error) {
	raw, err := a.client.GenerateJSON(ctx, prompt, tier)
	if err != nil {
		return nil, fmt.Errorf("%s analysis call failed: %w", tier, err)
	}
	return parseVerdict(model, raw)
}

func parseVerdict(model, raw string) (*verdict, error) {
	cleaned := llm.CleanJSONBlock(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, &llm.ResponseParseError{Model: model, Message: "response is not a JSON object", Raw: raw}
	}
	if err := schemas.Validate(schemas.DriftAnalysis, cleaned); err != nil {
		return nil, &llm.ResponseParseError{Model: model, Message: "response failed schema validation", Raw: raw, Cause: err}
	}

	var rv rawVerdict
	if err := json.Unmarshal([]byte(cleaned), &rv); err != nil {
		return nil, &llm.ResponseParseError{Model: model, Message: "failed to decode response", Raw: raw, Cause: err}
	}
	decision, err := types.ParseDecision(rv.Decision)
	if err != nil {
		return nil, &llm.ResponseParseError{Model: model, Message: "invalid decision", Raw: raw, Cause: err}
	}
	if rv.DriftScore == nil {
		return nil, &llm.ResponseParseError{Model: model, Message: "missing drift_score", Raw: raw}
	}

	rationale := strings.TrimSpace(rv.Rationale)
	if rationale == "" {
		rationale = DefaultRationale
	}
	return &verdict{
		decision:  decision,
		score:     *rv.DriftScore,
		rationale: rationale,
		summary: types.DiffSummary{
			ChangeTypes:          nonNil(rv.ChangeTypes),
			Evidence:             normalizeEvidence(rv.Evidence),
			RecommendedFollowups: nonNil(rv.RecommendedFollowups),
		},
	}, nil
}

// normalizeEvidence flattens evidence items to strings. Object items with a quote
// and explanation render as `"quote": explanation`.
func normalizeEvidence(items []json.RawMessage) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Quote       string `json:"quote"`
			Snippet     string `json:"snippet"`
			Explanation string `json:"explanation"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			out = append(out, string(item))
			continue
		}
		quote := obj.Quote
		if quote == "" {
			quote = obj.Snippet
		}
		switch {
		case quote != "" && obj.Explanation != "":
			out = append(out, fmt.Sprintf("%q: %s", quote, obj.Explanation))
		case quote != "":
			out = append(out, fmt.Sprintf("%q", quote))
		case obj.Explanation != "":
			out = append(out, obj.Explanation)
		default:
			out = append(out, string(item))
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
