// Package observability provides logging, metrics and formatted CLI output.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/rivalops/internal/pipeline"
	"github.com/jonathan/rivalops/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// clip shortens s to n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, clip(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// writeList appends up to maxItemsToShow items under heading.
func writeList(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(heading + ":\n")
	count := min(len(items), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", items[i]))
	}
	if len(items) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(items)-maxItemsToShow))
	}
}

// PrintRunOutcome outputs the result of processing one target.
func (p *Printer) PrintRunOutcome(o *pipeline.RunOutcome) {
	if o == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", o.RunID))
	sb.WriteString(fmt.Sprintf("Target:   %s\n", o.TargetID))
	sb.WriteString(fmt.Sprintf("Status:   %s (%s)\n", o.Status, o.Phase))
	if o.SnapshotID != nil {
		state := "existing"
		if o.SnapshotCreated {
			state = "new"
		}
		sb.WriteString(fmt.Sprintf("Snapshot: %s (%s)\n", *o.SnapshotID, state))
	}
	if o.DriftScore != nil {
		sb.WriteString(fmt.Sprintf("Decision: %s  score %.2f  via %s\n", o.Decision, *o.DriftScore, o.Model))
	}
	if o.BriefingID != nil {
		sb.WriteString(fmt.Sprintf("Briefing: %s (pending review)\n", *o.BriefingID))
	}
	if o.Error != "" {
		sb.WriteString(fmt.Sprintf("Error:    %s\n", o.Error))
	}
	sb.WriteString(fmt.Sprintf("Took:     %s", o.Duration.Round(1e6)))

	p.printBox("RUN OUTCOME", sb.String())
}

// PrintAnalysis outputs a drift analysis.
func (p *Printer) PrintAnalysis(a *types.Analysis) {
	if a == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Decision: %s\n", a.Decision))
	sb.WriteString(fmt.Sprintf("Score:    %.2f\n", a.DriftScore))
	sb.WriteString(fmt.Sprintf("Model:    %s\n", a.Model))
	if a.Rationale != "" {
		sb.WriteString(fmt.Sprintf("Why:      %s\n", a.Rationale))
	}
	sb.WriteString("\n")
	writeList(&sb, "Change types", a.DiffSummary.ChangeTypes)
	writeList(&sb, "Evidence", a.DiffSummary.Evidence)
	writeList(&sb, "Follow-ups", a.DiffSummary.RecommendedFollowups)

	p.printBox("DRIFT ANALYSIS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBriefing outputs a drafted briefing.
func (p *Printer) PrintBriefing(b *types.Briefing) {
	if b == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title:    %s\n", b.Title))
	sb.WriteString(fmt.Sprintf("Risk:     %s\n", b.RiskLevel))
	sb.WriteString(fmt.Sprintf("Review:   %s\n", b.ReviewStatus))
	if b.ExecutiveSummary != "" {
		sb.WriteString("\n")
		sb.WriteString(b.ExecutiveSummary)
	}

	p.printBox("EXECUTIVE BRIEFING", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintTargets outputs a target table.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintTargets(targets []types.Target) {
	if len(targets) == 0 {
		fmt.Fprintln(p.out, "No targets.")
		return
	}
	for _, t := range targets {
		state := "enabled"
		if !t.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(p.out, "%s  %-8s  %-8s  every %3dm  %s\n",
			t.ID, t.CrawlStrategy, state, t.ScheduleMinutes, t.DisplayName())
	}
}
