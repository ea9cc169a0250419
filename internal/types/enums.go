// Package types provides the entity and enumeration types shared by the rivalops packages.
package types

import (
	"fmt"
	"strings"
)

// RunStatus is the persisted status of a pipeline run.
type RunStatus string

// Run statuses. NoChange, Drift and Error are terminal.
const (
	RunStatusStarted  RunStatus = "started"
	RunStatusFetched  RunStatus = "fetched"
	RunStatusAnalyzed RunStatus = "analyzed"
	RunStatusNoChange RunStatus = "no_change"
	RunStatusDrift    RunStatus = "drift"
	RunStatusError    RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusStarted, RunStatusFetched, RunStatusAnalyzed,
		RunStatusNoChange, RunStatusDrift, RunStatusError:
		return true
	}
	return false
}

// Terminal reports whether a run with this status has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusNoChange || s == RunStatusDrift || s == RunStatusError
}

// Decision is the drift analyzer's verdict.
type Decision string

// Decisions
const (
	DecisionNoChange Decision = "no_change"
	DecisionDrift    Decision = "drift"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionNoChange || d == DecisionDrift
}

// ParseDecision accepts the canonical values plus the hyphenated "no-change" spelling
// some models return.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no_change", "no-change", "nochange":
		return DecisionNoChange, nil
	case "drift":
		return DecisionDrift, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// RunStatus maps a decision to the terminal run status it produces.
func (d Decision) RunStatus() RunStatus {
	if d == DecisionDrift {
		return RunStatusDrift
	}
	return RunStatusNoChange
}

// ReviewStatus tracks where a briefing is in human review.
type ReviewStatus string

// Review statuses
const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Valid reports whether s is a known review status.
func (s ReviewStatus) Valid() bool {
	return s == ReviewPending || s == ReviewApproved || s == ReviewRejected
}

// RiskLevel is the drafter's assessment of a change's business risk.
type RiskLevel string

// Risk levels
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel normalizes s, falling back to medium for empty or unknown values.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow
	case RiskHigh:
		return RiskHigh
	default:
		return RiskMedium
	}
}

// CrawlStrategy selects the fetch backend used for a target.
type CrawlStrategy string

// Crawl strategies
const (
	CrawlMarkdown CrawlStrategy = "markdown"
	CrawlHTML     CrawlStrategy = "html"
	CrawlBrowser  CrawlStrategy = "browser"
)

// Valid reports whether c is a known strategy.
func (c CrawlStrategy) Valid() bool {
	return c == CrawlMarkdown || c == CrawlHTML || c == CrawlBrowser
}

// ParseCrawlStrategy parses s; an empty string means markdown.
func ParseCrawlStrategy(s string) (CrawlStrategy, error) {
	if s == "" {
		return CrawlMarkdown, nil
	}
	c := CrawlStrategy(strings.ToLower(s))
	if !c.Valid() {
		return "", fmt.Errorf("unknown crawl strategy %q", s)
	}
	return c, nil
}
