package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/platform/ctxutil"
	"github.com/brandguard/backend/internal/platform/envutil"
	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/platform/openai"
	"github.com/brandguard/backend/internal/repos"
	"github.com/brandguard/backend/internal/types"

	"github.com/google/uuid"
)

const analyzerMaxAttempts = 2

// ComplianceAnalyzer grades the evidence against the retrieved rules and
// produces the final structured report. The model is forced onto a JSON
// schema; anything that still fails validation gets exactly one corrective
// round trip before the run fails.
type ComplianceAnalyzer interface {
	Analyze(ctx context.Context, ev *audit.EvidenceBundle, rules []audit.RuleExcerpt, region audit.Region) (*audit.Report, error)
}

type complianceAnalyzer struct {
	log *logger.Logger
	ai  openai.Client

	strictEnums bool
	modelName   string

	db      *gorm.DB
	callLog repos.AICallLogRepo
}

func NewComplianceAnalyzer(baseLog *logger.Logger, ai openai.Client, db *gorm.DB, callLog repos.AICallLogRepo) ComplianceAnalyzer {
	return &complianceAnalyzer{
		log:         baseLog.With("service", "ComplianceAnalyzer"),
		ai:          ai,
		strictEnums: envutil.Bool("AUDIT_STRICT_ENUMS", false),
		modelName:   envutil.String("OPENAI_MODEL", "gpt-4o"),
		db:          db,
		callLog:     callLog,
	}
}

func (s *complianceAnalyzer) Analyze(ctx context.Context, ev *audit.EvidenceBundle, rules []audit.RuleExcerpt, region audit.Region) (*audit.Report, error) {
	ctx = ctxutil.Default(ctx)
	if ev == nil {
		return nil, &audit.AnalysisError{Err: fmt.Errorf("nil evidence bundle")}
	}

	system := analyzerSystemPrompt(region)
	user := analyzerUserPrompt(ev, rules, region)

	var lastErr error
	for attempt := 1; attempt <= analyzerMaxAttempts; attempt++ {
		prompt := user
		if lastErr != nil {
			prompt = user + "\n\nYour previous answer failed validation: " + lastErr.Error() +
				"\nReturn a corrected JSON object that satisfies the schema exactly."
		}

		raw, usage, err := s.ai.GenerateJSON(ctx, system, prompt, "compliance_report", reportSchema())
		if err != nil {
			// Unparseable model text gets the same corrective round trip as a
			// schema miss; only provider and transport failures abort.
			var malformed *openai.MalformedOutputError
			if errors.As(err, &malformed) {
				s.recordCall(ctx, prompt, malformed.RawText, usage, false, err)
				s.log.Warn("Model output was not valid JSON",
					"attempt", attempt,
					"error", err.Error(),
				)
				lastErr = err
				continue
			}
			s.recordCall(ctx, prompt, "", usage, false, err)
			return nil, &audit.AnalysisError{Err: err}
		}

		report, parseErr := s.reportFromModel(raw, rules, region)
		if parseErr != nil {
			s.recordCall(ctx, prompt, compactJSON(raw), usage, false, parseErr)
			s.log.Warn("Model report failed validation",
				"attempt", attempt,
				"error", parseErr.Error(),
			)
			lastErr = parseErr
			continue
		}

		s.recordCall(ctx, prompt, compactJSON(raw), usage, true, nil)
		return report, nil
	}

	return nil, &audit.SchemaValidationError{Attempts: analyzerMaxAttempts, Err: lastErr}
}

const noRulesNote = "No applicable compliance rules were retrieved for this audit; the assessment falls back to broadly accepted advertising standards."

func (s *complianceAnalyzer) reportFromModel(raw map[string]any, rules []audit.RuleExcerpt, region audit.Region) (*audit.Report, error) {
	summary, _ := raw["summary_markdown"].(string)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("summary_markdown is empty")
	}
	if len(rules) == 0 && !strings.Contains(strings.ToLower(summary), "no applicable") {
		summary += "\n\n" + noRulesNote
	}

	rawViolations, _ := raw["violations"].([]any)
	violations := make([]audit.Violation, 0, len(rawViolations))
	for i, item := range rawViolations {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("violations[%d] is not an object", i)
		}

		catRaw, _ := obj["category"].(string)
		cat, catOK := audit.ParseCategory(catRaw)
		sevRaw, _ := obj["severity"].(string)
		sev, sevOK := audit.ParseSeverity(sevRaw)

		if s.strictEnums && (!catOK || !sevOK) {
			return nil, fmt.Errorf("violations[%d]: unknown enum category=%q severity=%q", i, catRaw, sevRaw)
		}
		if !catOK {
			s.log.Warn("Unknown violation category, coerced", "raw", catRaw, "coerced", string(cat))
		}
		if !sevOK {
			s.log.Warn("Unknown violation severity, coerced", "raw", sevRaw, "coerced", string(sev))
		}

		desc, _ := obj["description"].(string)
		if strings.TrimSpace(desc) == "" {
			return nil, fmt.Errorf("violations[%d]: empty description", i)
		}
		evRef, _ := obj["evidence_reference"].(string)
		ruleRef, _ := obj["rule_reference"].(string)

		violations = append(violations, audit.Violation{
			Category:          cat,
			Severity:          sev,
			Description:       strings.TrimSpace(desc),
			EvidenceReference: strings.TrimSpace(evRef),
			RuleReference:     strings.TrimSpace(ruleRef),
		})
	}

	report := &audit.Report{
		Violations:      violations,
		OverallRisk:     audit.DeriveOverallRisk(violations),
		SummaryMarkdown: summary,
		RegionEvaluated: region,
		GeneratedAt:     time.Now().UTC(),
	}
	if err := report.Validate(); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *complianceAnalyzer) recordCall(ctx context.Context, prompt, response string, usage *openai.Usage, success bool, callErr error) {
	if s.callLog == nil {
		return
	}
	row := &types.AICallLog{
		ID:       uuid.New(),
		CallType: "audit_json",
		Model:    s.modelName,
		Prompt:   prompt,
		Response: response,
		Success:  success,
		Usage:    marshalUsage(usage),
	}
	if callErr != nil {
		row.Error = callErr.Error()
	}
	if _, err := s.callLog.Create(ctx, s.db, []*types.AICallLog{row}); err != nil {
		s.log.Warn("AI call log write failed", "error", err.Error())
	}
}

func compactJSON(v map[string]any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func marshalUsage(u *openai.Usage) datatypes.JSON {
	if u == nil {
		return nil
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func reportSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"violations", "summary_markdown"},
		"properties": map[string]any{
			"violations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"category", "severity", "description", "evidence_reference", "rule_reference"},
					"properties": map[string]any{
						"category": map[string]any{
							"type": "string",
							"enum": []string{
								string(audit.CategoryMisleadingClaim),
								string(audit.CategoryMissingDisclosure),
								string(audit.CategoryRegulatoryBreach),
								string(audit.CategoryBrandSafety),
								string(audit.CategoryOther),
							},
						},
						"severity": map[string]any{
							"type": "string",
							"enum": []string{
								string(audit.SeverityCritical),
								string(audit.SeverityHigh),
								string(audit.SeverityMedium),
								string(audit.SeverityLow),
							},
						},
						"description":        map[string]any{"type": "string"},
						"evidence_reference": map[string]any{"type": "string"},
						"rule_reference":     map[string]any{"type": "string"},
					},
				},
			},
			"summary_markdown": map[string]any{"type": "string"},
		},
	}
}

func analyzerSystemPrompt(region audit.Region) string {
	return strings.Join([]string{
		"You are a brand-safety and advertising-compliance auditor.",
		"You review extracted evidence from a video advertisement and grade it against the provided compliance rule excerpts.",
		fmt.Sprintf("The audit region is %s. Consider the regulatory frameworks relevant there (for example GDPR and ASA/EASA codes in EUROPE, FTC guidelines in NORTH_AMERICA).", region),
		"Cite evidence by quoting or referencing transcript and on-screen text, and cite rules by their rule id.",
		"Only report violations you can tie to concrete evidence. If the rule excerpts are empty, fall back to broadly accepted advertising standards and say so in the summary.",
		"Respond with JSON only, matching the provided schema.",
	}, " ")
}

func analyzerUserPrompt(ev *audit.EvidenceBundle, rules []audit.RuleExcerpt, region audit.Region) string {
	var b strings.Builder

	b.WriteString("## Video evidence\n")
	if ev.Source.Title != "" || ev.Source.Channel != "" {
		b.WriteString(fmt.Sprintf("Source: %q by %q (%s, uploaded %s)\n",
			ev.Source.Title, ev.Source.Channel, ev.Source.Platform, ev.Source.UploadDate))
	}
	b.WriteString(fmt.Sprintf("Duration: %.1f seconds\n", ev.DurationSeconds))

	b.WriteString("\n### Transcript\n")
	if t := ev.TranscriptText(); t != "" {
		b.WriteString(t)
		b.WriteString("\n")
	} else {
		b.WriteString("(no speech detected)\n")
	}

	b.WriteString("\n### On-screen text\n")
	if lines := ev.OCRLines(); len(lines) > 0 {
		for _, l := range lines {
			b.WriteString("- ")
			b.WriteString(l)
			b.WriteString("\n")
		}
	} else {
		b.WriteString("(none detected)\n")
	}

	b.WriteString("\n### Detected brands/logos\n")
	if labels := ev.MarkLabels(); len(labels) > 0 {
		b.WriteString(strings.Join(labels, ", "))
		b.WriteString("\n")
	} else {
		b.WriteString("(none detected)\n")
	}

	b.WriteString(fmt.Sprintf("\n## Compliance rules (region %s)\n", region))
	if len(rules) == 0 {
		b.WriteString("No rule excerpts were retrieved for this audit.\n")
	}
	for i, r := range rules {
		b.WriteString(fmt.Sprintf("%d. [%s] (%s, regions: ", i+1, r.RuleID, r.SourceDocument))
		regionStrs := make([]string, 0, len(r.ApplicableRegions))
		for _, ar := range r.ApplicableRegions {
			regionStrs = append(regionStrs, string(ar))
		}
		b.WriteString(strings.Join(regionStrs, "/"))
		b.WriteString(")\n")
		b.WriteString(r.TextExcerpt)
		b.WriteString("\n")
	}

	b.WriteString("\nProduce the compliance report now.")
	return b.String()
}
