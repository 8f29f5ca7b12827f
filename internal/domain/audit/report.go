package audit

import (
	"fmt"
	"strings"
	"time"
)

// RuleExcerpt is one retrieved fragment of a compliance reference document.
// Constructed fresh per run, never persisted on its own.
type RuleExcerpt struct {
	RuleID            string   `json:"rule_id"`
	SourceDocument    string   `json:"source_document"`
	TextExcerpt       string   `json:"text_excerpt"`
	RelevanceScore    float64  `json:"relevance_score"`
	ApplicableRegions []Region `json:"applicable_regions"`
}

// AppliesTo reports whether the excerpt covers the region, either exactly or
// through the GLOBAL wildcard.
func (r RuleExcerpt) AppliesTo(region Region) bool {
	for _, ar := range r.ApplicableRegions {
		if ar == region || ar == RegionGlobal {
			return true
		}
	}
	return false
}

// MatchesExactly reports a non-wildcard region match, used to break retrieval
// score ties in favor of region-specific rules.
func (r RuleExcerpt) MatchesExactly(region Region) bool {
	for _, ar := range r.ApplicableRegions {
		if ar == region {
			return true
		}
	}
	return false
}

type Violation struct {
	Category          Category `json:"category"`
	Severity          Severity `json:"severity"`
	Description       string   `json:"description"`
	EvidenceReference string   `json:"evidence_reference,omitempty"`
	RuleReference     string   `json:"rule_reference,omitempty"`
}

type Report struct {
	Violations      []Violation `json:"violations"`
	OverallRisk     string      `json:"overall_risk_level"`
	SummaryMarkdown string      `json:"summary_markdown"`
	RegionEvaluated Region      `json:"region_evaluated"`
	GeneratedAt     time.Time   `json:"generated_at"`
}

// DeriveOverallRisk returns the maximum severity across the violations, or
// RiskNone for an empty set.
func DeriveOverallRisk(violations []Violation) string {
	best := ""
	bestRank := 0
	for _, v := range violations {
		if r := v.Severity.Rank(); r > bestRank {
			bestRank = r
			best = string(v.Severity)
		}
	}
	if best == "" {
		return RiskNone
	}
	return best
}

// Validate enforces the report invariants: derived risk level matches the
// violation set, and the summary is never empty (a clean result still has to
// explain itself).
func (r *Report) Validate() error {
	if strings.TrimSpace(r.SummaryMarkdown) == "" {
		return fmt.Errorf("report summary is empty")
	}
	want := DeriveOverallRisk(r.Violations)
	if r.OverallRisk != want {
		return fmt.Errorf("overall risk %q does not match violations (want %q)", r.OverallRisk, want)
	}
	for i, v := range r.Violations {
		if v.Severity.Rank() == 0 {
			return fmt.Errorf("violation %d: invalid severity %q", i, v.Severity)
		}
		if strings.TrimSpace(v.Description) == "" {
			return fmt.Errorf("violation %d: empty description", i)
		}
	}
	return nil
}
